package saga

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ernie/hlstatsd/internal/domain"
)

// recordingStep appends its calls to a shared trace.
type recordingStep struct {
	name        string
	trace       *[]string
	failExecute bool
	failComp    bool
}

func (s *recordingStep) Name() string { return s.name }

func (s *recordingStep) Execute(ctx context.Context, ec *Execution) error {
	*s.trace = append(*s.trace, "exec:"+s.name)
	if s.failExecute {
		return errors.New(s.name + " exploded")
	}
	return nil
}

func (s *recordingStep) Compensate(ctx context.Context, ec *Execution) error {
	*s.trace = append(*s.trace, "comp:"+s.name)
	if s.failComp {
		return errors.New(s.name + " compensation exploded")
	}
	return nil
}

func newTestSaga(steps ...Step) *Saga {
	return &Saga{
		Name:      "test",
		EventType: domain.EventPlayerKill,
		Steps:     steps,
	}
}

func killEvent() *domain.GameEvent {
	return &domain.GameEvent{Type: domain.EventPlayerKill, ServerID: 1}
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	var trace []string
	engine := NewEngine()
	if err := engine.Register(newTestSaga(
		&recordingStep{name: "one", trace: &trace},
		&recordingStep{name: "two", trace: &trace},
	)); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := engine.Execute(context.Background(), killEvent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if len(res.CompletedSteps) != 2 {
		t.Errorf("expected 2 completed steps, got %v", res.CompletedSteps)
	}
	want := []string{"exec:one", "exec:two"}
	assertTrace(t, trace, want)
}

func TestCompensationRunsInReverseOrder(t *testing.T) {
	var trace []string
	engine := NewEngine()
	if err := engine.Register(newTestSaga(
		&recordingStep{name: "one", trace: &trace},
		&recordingStep{name: "two", trace: &trace},
		&recordingStep{name: "three", trace: &trace, failExecute: true},
		&recordingStep{name: "four", trace: &trace},
	)); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := engine.Execute(context.Background(), killEvent())
	if err == nil {
		t.Fatal("expected the step failure to propagate")
	}
	if res == nil || res.Success {
		t.Fatalf("expected failed result, got %+v", res)
	}

	// Steps one and two completed, three failed, four never ran.
	// Compensation must run two then one; never three or four.
	want := []string{"exec:one", "exec:two", "exec:three", "comp:two", "comp:one"}
	assertTrace(t, trace, want)
}

func TestCompensationMatchesStepsByPosition(t *testing.T) {
	// Two steps may legitimately share a name (e.g. the same module touched
	// twice). Compensation must hit each instance, not resolve by name.
	var trace []string
	mk := func(label string) stepFunc {
		return stepFunc{
			name: "write",
			exec: func(ctx context.Context, ec *Execution) error {
				trace = append(trace, "exec:"+label)
				return nil
			},
			comp: func(ctx context.Context, ec *Execution) error {
				trace = append(trace, "comp:"+label)
				return nil
			},
		}
	}

	engine := NewEngine()
	if err := engine.Register(newTestSaga(
		mk("first"),
		mk("second"),
		&recordingStep{name: "boom", trace: &trace, failExecute: true},
	)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := engine.Execute(context.Background(), killEvent()); err == nil {
		t.Fatal("expected the step failure to propagate")
	}
	want := []string{"exec:first", "exec:second", "exec:boom", "comp:second", "comp:first"}
	assertTrace(t, trace, want)
}

func TestCompensationFailureIsolation(t *testing.T) {
	var trace []string
	engine := NewEngine()
	if err := engine.Register(newTestSaga(
		&recordingStep{name: "one", trace: &trace},
		&recordingStep{name: "two", trace: &trace, failComp: true},
		&recordingStep{name: "three", trace: &trace, failExecute: true},
	)); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := engine.Execute(context.Background(), killEvent())
	if err == nil {
		t.Fatal("expected the step failure to propagate")
	}
	// step two's compensation throwing must not stop step one's.
	want := []string{"exec:one", "exec:two", "exec:three", "comp:two", "comp:one"}
	assertTrace(t, trace, want)

	// The error reported is the step failure, not the compensation failure.
	if got := err.Error(); !strings.Contains(got, "three exploded") {
		t.Errorf("error should carry the original step failure, got %q", got)
	}
}

func TestUnregisteredEventTypeIsNoOp(t *testing.T) {
	engine := NewEngine()
	res, err := engine.Execute(context.Background(), &domain.GameEvent{Type: domain.EventChat})
	if err != nil {
		t.Fatalf("no-op execute returned error: %v", err)
	}
	if res != nil {
		t.Errorf("no-op execute returned result %+v", res)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	engine := NewEngine()
	var trace []string
	if err := engine.Register(newTestSaga(&recordingStep{name: "one", trace: &trace})); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := engine.Register(newTestSaga(&recordingStep{name: "other", trace: &trace}))
	if !errors.Is(err, ErrSagaRegistered) {
		t.Errorf("got %v, want ErrSagaRegistered", err)
	}
}

func TestTypedStatePassesBetweenSteps(t *testing.T) {
	type counterState struct{ n int }

	var observed int
	s := &Saga{
		Name:      "stateful",
		EventType: domain.EventPlayerKill,
		NewState:  func(*domain.GameEvent) any { return &counterState{} },
		Steps: []Step{
			stepFunc{
				name: "increment",
				exec: func(ctx context.Context, ec *Execution) error {
					ec.State.(*counterState).n = 41
					return nil
				},
			},
			stepFunc{
				name: "read",
				exec: func(ctx context.Context, ec *Execution) error {
					observed = ec.State.(*counterState).n + 1
					return nil
				},
			},
		},
	}

	engine := NewEngine()
	if err := engine.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Execute(context.Background(), killEvent()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if observed != 42 {
		t.Errorf("state did not flow between steps: got %d", observed)
	}
}

type stepFunc struct {
	name string
	exec func(ctx context.Context, ec *Execution) error
	comp func(ctx context.Context, ec *Execution) error
}

func (s stepFunc) Name() string { return s.name }
func (s stepFunc) Execute(ctx context.Context, ec *Execution) error {
	if s.exec == nil {
		return nil
	}
	return s.exec(ctx, ec)
}
func (s stepFunc) Compensate(ctx context.Context, ec *Execution) error {
	if s.comp == nil {
		return nil
	}
	return s.comp(ctx, ec)
}

func assertTrace(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trace mismatch:\n got %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace mismatch at %d:\n got %v\nwant %v", i, got, want)
		}
	}
}

