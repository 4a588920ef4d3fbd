package modules

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

// PlayerModule handles player-lifecycle events and the player side of kills.
type PlayerModule struct {
	store    Store
	cache    Invalidator
	sessions SessionWatcher
	// connectWindow is how long after a connect a repeat connect for the
	// same slot is treated as a duplicate delivery rather than a new one.
	connectWindow time.Duration
}

// NewPlayerModule creates the player module. sessions may be nil, which
// disables duplicate-connect suppression.
func NewPlayerModule(store Store, cache Invalidator, sessions SessionWatcher, connectWindow time.Duration) *PlayerModule {
	return &PlayerModule{store: store, cache: cache, sessions: sessions, connectWindow: connectWindow}
}

// HandlePlayerEvent processes a single-player lifecycle event. A zero
// PlayerID means identity resolution failed upstream; the event is logged and
// skipped rather than treated as an error.
func (m *PlayerModule) HandlePlayerEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.PlayerID == 0 {
		log.Printf("Player module: %s on server %d has no resolved player, skipping", ev.Type, ev.ServerID)
		return nil
	}

	switch ev.Type {
	case domain.EventPlayerConnect, domain.EventPlayerEntry:
		slot := 0
		if ev.Meta.Player != nil {
			slot = ev.Meta.Player.GameUserID
		}
		// The transport is at-least-once and the roster poller reports the
		// same connects the log parser does. A slot that already connected
		// within the window was counted; drop the repeat.
		if m.sessions != nil && slot > 0 && m.sessions.HasRecentConnect(ev.ServerID, slot, m.connectWindow) {
			log.Printf("Player module: slot %d on server %d connected recently, skipping duplicate connect", slot, ev.ServerID)
			return nil
		}
		if err := m.store.RecordPlayerConnect(ctx, ev.PlayerID, slot); err != nil {
			return fmt.Errorf("recording connect for player %d: %w", ev.PlayerID, err)
		}
	case domain.EventPlayerName:
		if ev.Meta.Player != nil && ev.Meta.Player.PlayerName != "" {
			if err := m.store.UpdatePlayerName(ctx, ev.PlayerID, ev.Meta.Player.PlayerName); err != nil {
				return fmt.Errorf("updating name for player %d: %w", ev.PlayerID, err)
			}
		}
	case domain.EventPlayerDisconnect, domain.EventPlayerTeam, domain.EventPlayerRole, domain.EventChat:
		// Tracked in the session table; nothing durable to write yet.
	}
	return nil
}

// HandleKillEvent applies the player-side counters for a kill: killer kill
// (and headshot) plus victim death. A suicide only counts against the victim.
func (m *PlayerModule) HandleKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.Type == domain.EventPlayerSuicide {
		if ev.PlayerID == 0 {
			return nil
		}
		return m.store.AddPlayerSuicide(ctx, ev.PlayerID, 1)
	}

	if ev.KillerID != 0 {
		if err := m.store.AddPlayerKill(ctx, ev.KillerID, ev.Headshot, 1); err != nil {
			return fmt.Errorf("applying kill for player %d: %w", ev.KillerID, err)
		}
		m.invalidateStats(ctx, ev.KillerID)
	}
	if ev.VictimID != 0 {
		if err := m.store.AddPlayerDeath(ctx, ev.VictimID, 1); err != nil {
			return fmt.Errorf("applying death for player %d: %w", ev.VictimID, err)
		}
		m.invalidateStats(ctx, ev.VictimID)
	}
	return nil
}

// CompensateKillEvent undoes HandleKillEvent's increments.
func (m *PlayerModule) CompensateKillEvent(ctx context.Context, ev *domain.GameEvent) error {
	if ev.KillerID != 0 {
		if err := m.store.AddPlayerKill(ctx, ev.KillerID, ev.Headshot, -1); err != nil {
			return fmt.Errorf("reverting kill for player %d: %w", ev.KillerID, err)
		}
	}
	if ev.VictimID != 0 {
		if err := m.store.AddPlayerDeath(ctx, ev.VictimID, -1); err != nil {
			return fmt.Errorf("reverting death for player %d: %w", ev.VictimID, err)
		}
	}
	return nil
}

func (m *PlayerModule) invalidateStats(ctx context.Context, playerID int64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidatePattern(ctx, fmt.Sprintf("player:stats:%d", playerID)); err != nil {
		log.Printf("Player module: cache invalidation for player %d failed: %v", playerID, err)
	}
}
