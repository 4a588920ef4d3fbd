// Package saga executes multi-step compensable workflows triggered by domain
// events. There is no cross-module database transaction, so a failed step
// rolls back its predecessors by running their compensations in reverse.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/hlstatsd/internal/domain"
)

// ErrSagaRegistered is returned when two sagas claim the same event type.
var ErrSagaRegistered = errors.New("saga already registered for event type")

// Step is one unit of a saga. Execute records whatever its Compensate will
// need in the execution's typed state. Compensate is only invoked for steps
// whose Execute completed.
type Step interface {
	Name() string
	Execute(ctx context.Context, ec *Execution) error
	Compensate(ctx context.Context, ec *Execution) error
}

// Saga is an ordered list of steps bound to exactly one event type.
// NewState builds the per-run typed state the steps share; each saga defines
// its own state struct so step inputs and outputs stay statically checkable.
type Saga struct {
	Name      string
	EventType domain.EventType
	NewState  func(ev *domain.GameEvent) any
	Steps     []Step
}

// StepResult marks one completed step. Processed is the explicit marker that
// gates compensation: a step that never ran is never compensated.
type StepResult struct {
	Name        string
	Processed   bool
	CompletedAt time.Time
}

// Execution is the context for one saga run. It is owned exclusively by that
// run and never shared across concurrent executions.
type Execution struct {
	CorrelationID string
	Event         *domain.GameEvent
	State         any

	results []StepResult
}

// Results returns the completed-step markers in execution order.
func (ec *Execution) Results() []StepResult {
	return ec.results
}

// Result reports the outcome of one saga execution.
type Result struct {
	Success        bool
	CompletedSteps []string
	Duration       time.Duration
}

// Engine routes events to their registered saga and drives execution and
// compensation. Construct one at startup and pass it by reference; there is
// no package-level registry.
type Engine struct {
	sagas map[domain.EventType]*Saga
	now   func() time.Time
}

// NewEngine creates an empty saga engine.
func NewEngine() *Engine {
	return &Engine{
		sagas: make(map[domain.EventType]*Saga),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register binds a saga to its event type.
func (e *Engine) Register(s *Saga) error {
	if _, ok := e.sagas[s.EventType]; ok {
		return fmt.Errorf("%w: %s", ErrSagaRegistered, s.EventType)
	}
	e.sagas[s.EventType] = s
	return nil
}

// Registered reports whether a saga exists for the event type.
func (e *Engine) Registered(t domain.EventType) bool {
	_, ok := e.sagas[t]
	return ok
}

// Execute runs the saga registered for the event's type. If none is
// registered this is a no-op, not an error. On a step failure the completed
// steps are compensated in reverse order and the step's error is returned;
// compensation failures are logged and never mask it.
func (e *Engine) Execute(ctx context.Context, ev *domain.GameEvent) (*Result, error) {
	s, ok := e.sagas[ev.Type]
	if !ok {
		return nil, nil
	}

	ec := &Execution{
		CorrelationID: uuid.NewString(),
		Event:         ev,
	}
	if s.NewState != nil {
		ec.State = s.NewState(ev)
	}

	start := e.now()
	for _, step := range s.Steps {
		if err := step.Execute(ctx, ec); err != nil {
			log.Printf("Saga %s [%s]: step %s failed: %v", s.Name, ec.CorrelationID, step.Name(), err)
			e.compensate(ctx, s, ec)
			return &Result{
				Success:        false,
				CompletedSteps: completedNames(ec),
				Duration:       e.now().Sub(start),
			}, fmt.Errorf("saga %s step %s: %w", s.Name, step.Name(), err)
		}
		ec.results = append(ec.results, StepResult{
			Name:        step.Name(),
			Processed:   true,
			CompletedAt: e.now(),
		})
	}

	return &Result{
		Success:        true,
		CompletedSteps: completedNames(ec),
		Duration:       e.now().Sub(start),
	}, nil
}

// compensate rolls back completed steps in reverse order. Results are
// appended in execution order, so result i is s.Steps[i]; steps are matched
// by position, never by name, so duplicate names cannot cross wires. Each
// compensation error is logged and swallowed so it cannot block sibling
// compensations.
func (e *Engine) compensate(ctx context.Context, s *Saga, ec *Execution) {
	for i := len(ec.results) - 1; i >= 0; i-- {
		res := ec.results[i]
		if !res.Processed {
			continue
		}
		if err := s.Steps[i].Compensate(ctx, ec); err != nil {
			log.Printf("Saga %s [%s]: compensation for step %s failed: %v", s.Name, ec.CorrelationID, res.Name, err)
		}
	}
}

func completedNames(ec *Execution) []string {
	names := make([]string, 0, len(ec.results))
	for _, r := range ec.results {
		names = append(names, r.Name)
	}
	return names
}
