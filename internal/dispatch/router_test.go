package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ernie/hlstatsd/internal/domain"
)

// fakeModules implements every handler interface and records which handlers
// ran, in a form the tests can assert on.
type fakeModules struct {
	mu    sync.Mutex
	calls []string

	killErr map[string]error
}

func newFakeModules() *fakeModules {
	return &fakeModules{killErr: map[string]error{}}
}

func (f *fakeModules) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeModules) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeModules) kill(name string) error {
	f.record(name + ".kill")
	return f.killErr[name]
}

func (f *fakeModules) HandlePlayerEvent(ctx context.Context, ev *domain.GameEvent) error {
	f.record("player.lifecycle")
	return nil
}

func (f *fakeModules) HandleWeaponEvent(ctx context.Context, ev *domain.GameEvent) error {
	f.record("weapon.fire")
	return nil
}

func (f *fakeModules) HandleMatchEvent(ctx context.Context, ev *domain.GameEvent) error {
	f.record("match.lifecycle")
	return nil
}

func (f *fakeModules) HandleObjectiveEvent(ctx context.Context, ev *domain.GameEvent) error {
	f.record("match.objective")
	return nil
}

func (f *fakeModules) HandleActionEvent(ctx context.Context, ev *domain.GameEvent) error {
	f.record("action")
	return nil
}

// The four kill surfaces are split onto wrapper types so the same fake can
// serve all handler interfaces while still telling the call sites apart.
type playerHalf struct{ *fakeModules }

func (h playerHalf) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	return h.kill("player")
}

type weaponHalf struct{ *fakeModules }

func (h weaponHalf) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	return h.kill("weapon")
}

type matchHalf struct{ *fakeModules }

func (h matchHalf) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	return h.kill("match")
}

type rankingHalf struct{ *fakeModules }

func (h rankingHalf) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	return h.kill("ranking")
}

// fakeResolver assigns ids per external id and counts resolutions.
type fakeResolver struct {
	mu    sync.Mutex
	ids   map[string]int64
	next  int64
	fail  bool
	calls int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{ids: map[string]int64{}, next: 100}
}

func (r *fakeResolver) Resolve(ctx context.Context, externalID, displayName, gameCode string, serverID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return 0, errors.New("resolver down")
	}
	if id, ok := r.ids[externalID]; ok {
		return id, nil
	}
	r.next++
	r.ids[externalID] = r.next
	return r.next, nil
}

func newTestRouter(f *fakeModules, r Resolver) *Router {
	return NewRouter(Config{
		Resolver: r,
		Player:   playerHalf{f},
		Weapon:   weaponHalf{f},
		Match:    matchHalf{f},
		Ranking:  rankingHalf{f},
		Action:   f,
	})
}

func killEvent(id string) *domain.GameEvent {
	return &domain.GameEvent{
		ID:       id,
		Type:     domain.EventPlayerKill,
		ServerID: 1,
		Game:     "css",
		Weapon:   "ak47",
		Meta: domain.EventMeta{
			Killer: &domain.PlayerIdentity{ExternalID: "STEAM_0:1:111", PlayerName: "alpha"},
			Victim: &domain.PlayerIdentity{ExternalID: "STEAM_0:0:222", PlayerName: "bravo"},
		},
	}
}

func TestKillFansOutToAllModules(t *testing.T) {
	f := newFakeModules()
	router := newTestRouter(f, newFakeResolver())

	if err := router.Process(context.Background(), killEvent("ev-1")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	for _, name := range []string{"player.kill", "weapon.kill", "match.kill", "ranking.kill"} {
		if got := f.callCount(name); got != 1 {
			t.Errorf("handler %s called %d times, want 1", name, got)
		}
	}
}

func TestKillResolvesKillerAndVictim(t *testing.T) {
	f := newFakeModules()
	resolver := newFakeResolver()
	router := newTestRouter(f, resolver)

	ev := killEvent("ev-2")
	if err := router.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if ev.KillerID == 0 || ev.VictimID == 0 {
		t.Fatalf("ids not resolved: killer=%d victim=%d", ev.KillerID, ev.VictimID)
	}
	if ev.KillerID == ev.VictimID {
		t.Fatalf("killer and victim got the same id %d", ev.KillerID)
	}

	// Same identities again resolve to the same durable ids.
	second := killEvent("ev-3")
	if err := router.Process(context.Background(), second); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if second.KillerID != ev.KillerID || second.VictimID != ev.VictimID {
		t.Errorf("ids not stable across events: got (%d,%d), want (%d,%d)",
			second.KillerID, second.VictimID, ev.KillerID, ev.VictimID)
	}
}

func TestResolutionFailureForwardsUnresolved(t *testing.T) {
	f := newFakeModules()
	resolver := newFakeResolver()
	resolver.fail = true
	router := newTestRouter(f, resolver)

	ev := killEvent("ev-4")
	if err := router.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process returned error on resolution failure: %v", err)
	}
	if ev.KillerID != 0 || ev.VictimID != 0 {
		t.Errorf("ids set despite failure: killer=%d victim=%d", ev.KillerID, ev.VictimID)
	}
	// The event still reaches the modules.
	if got := f.callCount("player.kill"); got != 1 {
		t.Errorf("player.kill called %d times, want 1", got)
	}
}

func TestUnknownEventTypeIsSoftNoOp(t *testing.T) {
	f := newFakeModules()
	router := newTestRouter(f, newFakeResolver())

	ev := &domain.GameEvent{ID: "ev-5", Type: "PLAYER_TELEPORT", ServerID: 1}
	if err := router.Process(context.Background(), ev); err != nil {
		t.Fatalf("unknown type should not error, got %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) != 0 {
		t.Errorf("handlers called for unknown type: %v", f.calls)
	}
}

func TestSingleHandlerRouting(t *testing.T) {
	f := newFakeModules()
	router := newTestRouter(f, newFakeResolver())
	ctx := context.Background()

	cases := []struct {
		ev   *domain.GameEvent
		want string
	}{
		{&domain.GameEvent{Type: domain.EventPlayerConnect, Meta: domain.EventMeta{Player: &domain.PlayerIdentity{ExternalID: "STEAM_0:1:5", PlayerName: "x"}}}, "player.lifecycle"},
		{&domain.GameEvent{Type: domain.EventMapChange, Map: "de_dust2"}, "match.lifecycle"},
		{&domain.GameEvent{Type: domain.EventBombPlant}, "match.objective"},
		{&domain.GameEvent{Type: domain.EventWeaponFire, Weapon: "m4a1"}, "weapon.fire"},
		{&domain.GameEvent{Type: domain.EventActionPlayer, Action: "headshot"}, "action"},
	}
	for _, tc := range cases {
		if err := router.Process(ctx, tc.ev); err != nil {
			t.Fatalf("Process(%s): %v", tc.ev.Type, err)
		}
		if got := f.callCount(tc.want); got != 1 {
			t.Errorf("%s: handler %s called %d times, want 1", tc.ev.Type, tc.want, got)
		}
	}
}

func TestKillHandlerFailurePropagates(t *testing.T) {
	f := newFakeModules()
	f.killErr["ranking"] = errors.New("rating store down")
	router := newTestRouter(f, newFakeResolver())

	err := router.Process(context.Background(), killEvent("ev-6"))
	if err == nil {
		t.Fatal("expected error from failing kill handler")
	}
	// The other handlers still ran exactly once.
	for _, name := range []string{"player.kill", "weapon.kill", "match.kill"} {
		if got := f.callCount(name); got != 1 {
			t.Errorf("handler %s called %d times, want 1", name, got)
		}
	}
}

func TestProcessManyAbortsAfterFailedBatch(t *testing.T) {
	var processed atomic.Int64
	f := newFakeModules()
	router := NewRouter(Config{
		Resolver: newFakeResolver(),
		Player:   playerHalf{f},
		Weapon:   weaponHalf{f},
		Match:    matchHalf{f},
		Ranking:  rankingHalf{f},
		Action:   countingAction{&processed},
	})

	events := make([]*domain.GameEvent, 0, 7)
	for i := 0; i < 7; i++ {
		ev := &domain.GameEvent{
			ID:     fmt.Sprintf("ev-%d", i),
			Type:   domain.EventActionPlayer,
			Action: "capture",
		}
		if i == 2 {
			ev.Action = "boom" // countingAction fails on this code
		}
		events = append(events, ev)
	}

	err := router.ProcessMany(context.Background(), events, 3)
	if err == nil {
		t.Fatal("expected batch error")
	}
	// First batch of 3 settles, then processing stops: events 3..6 never run.
	if got := processed.Load(); got != 2 {
		t.Errorf("processed %d events, want 2 (batch of 3 minus the failure)", got)
	}
}

func TestProcessEventsPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	router := NewRouter(Config{
		Action: actionFunc(func(ctx context.Context, ev *domain.GameEvent) error {
			mu.Lock()
			order = append(order, ev.ID)
			mu.Unlock()
			return nil
		}),
	})

	events := []*domain.GameEvent{
		{ID: "a", Type: domain.EventActionPlayer},
		{ID: "b", Type: domain.EventActionPlayer},
		{ID: "c", Type: domain.EventActionPlayer},
	}
	if err := router.ProcessEvents(context.Background(), events); err != nil {
		t.Fatalf("ProcessEvents: %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

type countingAction struct{ n *atomic.Int64 }

func (a countingAction) HandleActionEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.Action == "boom" {
		return errors.New("boom")
	}
	a.n.Add(1)
	return nil
}

type actionFunc func(context.Context, *domain.GameEvent) error

func (f actionFunc) HandleActionEvent(ctx context.Context, ev *domain.GameEvent) error {
	return f(ctx, ev)
}
