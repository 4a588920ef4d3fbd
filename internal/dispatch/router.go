// Package dispatch routes normalized game events to the module handlers.
// It resolves embedded identities first, then fans kill events out to the
// four modules they touch; everything else goes to exactly one handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ernie/hlstatsd/internal/domain"
	"github.com/ernie/hlstatsd/internal/saga"
)

// DefaultConcurrency bounds how many events ProcessMany admits per batch.
const DefaultConcurrency = 10

// Resolver resolves an ephemeral identity to a durable player id.
type Resolver interface {
	Resolve(ctx context.Context, externalID, displayName, gameCode string, serverID int64) (int64, error)
}

// PlayerHandler is the player module's surface.
type PlayerHandler interface {
	HandlePlayerEvent(ctx context.Context, ev *domain.GameEvent) error
	HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error
}

// WeaponHandler is the weapon module's surface.
type WeaponHandler interface {
	HandleWeaponEvent(ctx context.Context, ev *domain.GameEvent) error
	HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error
}

// MatchHandler is the match module's surface.
type MatchHandler interface {
	HandleMatchEvent(ctx context.Context, ev *domain.GameEvent) error
	HandleObjectiveEvent(ctx context.Context, ev *domain.GameEvent) error
	HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error
}

// RankingHandler is the ranking module's surface.
type RankingHandler interface {
	HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error
}

// ActionHandler is the action module's surface.
type ActionHandler interface {
	HandleActionEvent(ctx context.Context, ev *domain.GameEvent) error
}

// Router classifies events and invokes the correct handlers.
type Router struct {
	resolver Resolver
	engine   *saga.Engine

	player  PlayerHandler
	weapon  WeaponHandler
	match   MatchHandler
	ranking RankingHandler
	action  ActionHandler

	concurrency int
}

// Config wires a Router. Engine is optional: when set, event types with a
// registered saga are executed through it (with compensation on failure)
// instead of the plain fan-out.
type Config struct {
	Resolver Resolver
	Engine   *saga.Engine
	Player   PlayerHandler
	Weapon   WeaponHandler
	Match    MatchHandler
	Ranking  RankingHandler
	Action   ActionHandler

	Concurrency int
}

// NewRouter creates a router from the given wiring.
func NewRouter(cfg Config) *Router {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Router{
		resolver:    cfg.Resolver,
		engine:      cfg.Engine,
		player:      cfg.Player,
		weapon:      cfg.Weapon,
		match:       cfg.Match,
		ranking:     cfg.Ranking,
		action:      cfg.Action,
		concurrency: concurrency,
	}
}

// Process resolves the event's identities and routes it to its handlers.
func (r *Router) Process(ctx context.Context, ev *domain.GameEvent) error {
	r.resolveIdentities(ctx, ev)

	switch ev.Type.Category() {
	case domain.CategoryPlayerLifecycle:
		return r.player.HandlePlayerEvent(ctx, ev)

	case domain.CategoryKill:
		// A registered saga takes precedence: it runs the same four
		// handlers as compensable steps.
		if r.engine != nil && r.engine.Registered(ev.Type) {
			_, err := r.engine.Execute(ctx, ev)
			return err
		}
		return r.fanOutKill(ctx, ev)

	case domain.CategoryMatch:
		return r.match.HandleMatchEvent(ctx, ev)

	case domain.CategoryObjective:
		return r.match.HandleObjectiveEvent(ctx, ev)

	case domain.CategoryWeapon:
		return r.weapon.HandleWeaponEvent(ctx, ev)

	case domain.CategoryAction:
		return r.action.HandleActionEvent(ctx, ev)

	case domain.CategorySystem:
		// Placeholder: no module consumes these yet.
		log.Printf("Dispatch: system event %s from server %d", ev.Type, ev.ServerID)
		return nil

	default:
		log.Printf("Warning: unhandled event type %q from server %d", ev.Type, ev.ServerID)
		return nil
	}
}

// ProcessEvents processes events sequentially, preserving submission order.
func (r *Router) ProcessEvents(ctx context.Context, events []*domain.GameEvent) error {
	for _, ev := range events {
		if err := r.Process(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// ProcessMany processes events in batches of at most concurrency, waiting for
// each batch to settle before admitting the next. Any failure aborts the
// remaining unsubmitted events. concurrency <= 0 uses the router's default.
// Relative completion order within a batch is not guaranteed.
func (r *Router) ProcessMany(ctx context.Context, events []*domain.GameEvent, concurrency int) error {
	if concurrency <= 0 {
		concurrency = r.concurrency
	}

	for start := 0; start < len(events); start += concurrency {
		end := start + concurrency
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]

		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, ev := range batch {
			wg.Add(1)
			go func(i int, ev *domain.GameEvent) {
				defer wg.Done()
				errs[i] = r.Process(ctx, ev)
			}(i, ev)
		}
		wg.Wait()

		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("batch starting at event %d: %w", start, err)
		}
	}
	return nil
}

// fanOutKill dispatches one kill to all four affected modules concurrently
// and waits for every one of them. Failures propagate; rollback is the saga
// engine's job for callers that want it.
func (r *Router) fanOutKill(ctx context.Context, ev *domain.GameEvent) error {
	handlers := []func(context.Context, *domain.GameEvent) error{
		r.player.HandleKillEvent,
		r.weapon.HandleKillEvent,
		r.ranking.HandleKillEvent,
		r.match.HandleKillEvent,
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h func(context.Context, *domain.GameEvent) error) {
			defer wg.Done()
			errs[i] = h(ctx, ev)
		}(i, h)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// resolveIdentities fills in the durable ids for the identities the event
// carries. Kills resolve both killer and victim; other events resolve the
// single player. A resolution failure is logged and the original event is
// forwarded unresolved; handlers treat zero ids as "unknown".
func (r *Router) resolveIdentities(ctx context.Context, ev *domain.GameEvent) {
	if r.resolver == nil {
		return
	}

	if ev.Type.Category() == domain.CategoryKill && ev.Meta.Killer != nil && ev.Meta.Victim != nil {
		killerID, err := r.resolve(ctx, ev, ev.Meta.Killer)
		if err != nil {
			log.Printf("Dispatch: killer resolution failed for %s on server %d: %v", ev.Type, ev.ServerID, err)
			return
		}
		victimID, err := r.resolve(ctx, ev, ev.Meta.Victim)
		if err != nil {
			log.Printf("Dispatch: victim resolution failed for %s on server %d: %v", ev.Type, ev.ServerID, err)
			return
		}
		ev.KillerID = killerID
		ev.VictimID = victimID
		return
	}

	if ev.Meta.Player != nil {
		playerID, err := r.resolve(ctx, ev, ev.Meta.Player)
		if err != nil {
			log.Printf("Dispatch: identity resolution failed for %s on server %d: %v", ev.Type, ev.ServerID, err)
			return
		}
		ev.PlayerID = playerID
	}
}

func (r *Router) resolve(ctx context.Context, ev *domain.GameEvent, id *domain.PlayerIdentity) (int64, error) {
	return r.resolver.Resolve(ctx, id.ExternalID, id.PlayerName, ev.Game, ev.ServerID)
}
