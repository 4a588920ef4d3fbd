// Package modules contains the per-concern event handlers: player, weapon,
// match, ranking, and action. Each module owns its own slice of the schema
// and exposes handle methods the dispatcher calls; kill handlers additionally
// expose compensations for saga rollback.
package modules

import (
	"context"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

// Store is the persistence surface the modules share. *storage.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	AddPlayerKill(ctx context.Context, playerID int64, headshot bool, delta int64) error
	AddPlayerDeath(ctx context.Context, playerID int64, delta int64) error
	AddPlayerSuicide(ctx context.Context, playerID int64, delta int64) error
	RecordPlayerConnect(ctx context.Context, playerID int64, slot int) error
	UpdatePlayerName(ctx context.Context, playerID int64, name string) error

	AddWeaponKill(ctx context.Context, game, weapon string, headshot bool, delta int64) error
	AddWeaponFire(ctx context.Context, game, weapon string, shots, hits int64) error

	AddAction(ctx context.Context, game, code string, delta int64) error

	StartMatch(ctx context.Context, m *domain.Match) error
	CurrentMatch(ctx context.Context, serverID int64) (*domain.Match, error)
	EndMatch(ctx context.Context, matchID int64, endedAt time.Time) error
	IncrementMatchRounds(ctx context.Context, matchID int64) error
	AddMatchKills(ctx context.Context, matchID int64, delta int64) error
	RecordObjective(ctx context.Context, matchID, playerID int64, typ, team string, at time.Time) error

	SkillForPlayers(ctx context.Context, killerID, victimID int64) (int, int, error)
	ApplySkillChange(ctx context.Context, killerID, victimID int64, delta int, eventID string) error
	RevertSkillChanges(ctx context.Context, eventID string) (int, error)
}

// Invalidator evicts cached query results after write-side mutations.
// The cache package's no-op implementation satisfies it when caching is off.
type Invalidator interface {
	InvalidatePattern(ctx context.Context, pattern string) error
}

// SessionWatcher answers liveness questions about per-server sessions.
// *session.Table satisfies it.
type SessionWatcher interface {
	HasRecentConnect(serverID int64, gameUserID int, window time.Duration) bool
}
