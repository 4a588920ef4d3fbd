package modules

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/hlstatsd/internal/domain"
)

// MatchModule tracks map runs, rounds, and objective events.
type MatchModule struct {
	store Store
}

// NewMatchModule creates the match module.
func NewMatchModule(store Store) *MatchModule {
	return &MatchModule{store: store}
}

// HandleMatchEvent processes round and map lifecycle events.
func (m *MatchModule) HandleMatchEvent(ctx context.Context, ev *domain.GameEvent) error {
	switch ev.Type {
	case domain.EventMapChange:
		match := &domain.Match{
			UUID:      uuid.NewString(),
			ServerID:  ev.ServerID,
			MapName:   ev.Map,
			Game:      ev.Game,
			StartedAt: m.eventTime(ev),
		}
		if err := m.store.StartMatch(ctx, match); err != nil {
			return fmt.Errorf("starting match on server %d: %w", ev.ServerID, err)
		}
	case domain.EventRoundStart, domain.EventRoundEnd, domain.EventTeamWin:
		match, err := m.currentMatch(ctx, ev)
		if err != nil || match == nil {
			return err
		}
		if ev.Type == domain.EventRoundEnd || ev.Type == domain.EventTeamWin {
			if err := m.store.IncrementMatchRounds(ctx, match.ID); err != nil {
				return fmt.Errorf("incrementing rounds for match %d: %w", match.ID, err)
			}
		}
	}
	return nil
}

// HandleObjectiveEvent records bomb plants, defuses, captures and the like
// against the current match.
func (m *MatchModule) HandleObjectiveEvent(ctx context.Context, ev *domain.GameEvent) error {
	match, err := m.currentMatch(ctx, ev)
	if err != nil || match == nil {
		return err
	}
	if err := m.store.RecordObjective(ctx, match.ID, ev.PlayerID, string(ev.Type), ev.Team, m.eventTime(ev)); err != nil {
		return fmt.Errorf("recording objective %s: %w", ev.Type, err)
	}
	return nil
}

// HandleKillEvent bumps the current match's kill counter.
func (m *MatchModule) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	match, err := m.currentMatch(ctx, ev)
	if err != nil || match == nil {
		return err
	}
	return m.store.AddMatchKills(ctx, match.ID, 1)
}

// CompensateKillEvent undoes HandleKillEvent's increment.
func (m *MatchModule) CompensateKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	match, err := m.currentMatch(ctx, ev)
	if err != nil || match == nil {
		return err
	}
	return m.store.AddMatchKills(ctx, match.ID, -1)
}

// currentMatch returns the open match for the event's server. Events arriving
// before any map change have no match; they are logged and dropped.
func (m *MatchModule) currentMatch(ctx context.Context, ev *domain.GameEvent) (*domain.Match, error) {
	match, err := m.store.CurrentMatch(ctx, ev.ServerID)
	if err != nil {
		return nil, fmt.Errorf("looking up current match for server %d: %w", ev.ServerID, err)
	}
	if match == nil {
		log.Printf("Match module: no open match on server %d for %s", ev.ServerID, ev.Type)
	}
	return match, nil
}

func (m *MatchModule) eventTime(ev *domain.GameEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return ev.Timestamp
}
