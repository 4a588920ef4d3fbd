// Package queries defines the read-side queries served through the cached
// query bus, and the handlers that back them with the SQLite store.
package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/ernie/hlstatsd/internal/cache"
	"github.com/ernie/hlstatsd/internal/domain"
)

// Reader is the storage surface the query handlers need.
type Reader interface {
	TopPlayersBySkill(ctx context.Context, game string, limit int) ([]domain.LeaderboardEntry, error)
	TopPlayersByKills(ctx context.Context, game string, limit int) ([]domain.LeaderboardEntry, error)
	GetPlayerByID(ctx context.Context, id int64) (*domain.Player, error)
	GetServers(ctx context.Context) ([]domain.Server, error)
}

// Leaderboard asks for the top players of a game ranked by skill or kills.
type Leaderboard struct {
	Game   string
	SortBy string // "skill" or "kills"
	Limit  int
}

func (Leaderboard) Name() string { return "leaderboard.top" }

func (q Leaderboard) CacheOptions() cache.Options {
	return cache.Options{
		TTL:        time.Minute,
		KeyPattern: "leaderboard:{game}:{sort}:top{limit}",
		Properties: map[string]any{"game": q.Game, "sort": q.SortBy, "limit": q.Limit},
	}
}

func (Leaderboard) NewResult() any { return &LeaderboardResult{} }

// LeaderboardResult is the cached leaderboard payload.
type LeaderboardResult struct {
	Game    string                    `json:"game"`
	SortBy  string                    `json:"sort_by"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// PlayerStats asks for one player's aggregate record.
type PlayerStats struct {
	PlayerID int64
}

func (PlayerStats) Name() string { return "player.stats" }

func (q PlayerStats) CacheOptions() cache.Options {
	return cache.Options{
		TTL:        5 * time.Minute,
		KeyPattern: "player:stats:{id}",
		Properties: map[string]any{"id": q.PlayerID},
	}
}

func (PlayerStats) NewResult() any { return &domain.Player{} }

// ServerList asks for the configured servers. It is not cacheable: the list
// is tiny and admin edits must show up immediately.
type ServerList struct{}

func (ServerList) Name() string { return "server.list" }

// RegisterHandlers binds every query in this package to its handler.
func RegisterHandlers(bus *cache.Bus, reader Reader) error {
	register := map[string]cache.Handler{
		Leaderboard{}.Name(): func(ctx context.Context, q cache.Query) (any, error) {
			lq := q.(Leaderboard)
			limit := lq.Limit
			if limit <= 0 || limit > 100 {
				limit = 25
			}
			var (
				entries []domain.LeaderboardEntry
				err     error
			)
			if lq.SortBy == "kills" {
				entries, err = reader.TopPlayersByKills(ctx, lq.Game, limit)
			} else {
				entries, err = reader.TopPlayersBySkill(ctx, lq.Game, limit)
			}
			if err != nil {
				return nil, err
			}
			return &LeaderboardResult{Game: lq.Game, SortBy: lq.SortBy, Entries: entries}, nil
		},
		PlayerStats{}.Name(): func(ctx context.Context, q cache.Query) (any, error) {
			pq := q.(PlayerStats)
			player, err := reader.GetPlayerByID(ctx, pq.PlayerID)
			if err != nil {
				return nil, err
			}
			if player == nil {
				return nil, fmt.Errorf("player %d not found", pq.PlayerID)
			}
			return player, nil
		},
		ServerList{}.Name(): func(ctx context.Context, q cache.Query) (any, error) {
			return reader.GetServers(ctx)
		},
	}

	for name, h := range register {
		if err := bus.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}
