package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

// --- Player methods ---

const playerColumns = `id, game, external_id, name, skill, kills, deaths, suicides,
	headshots, connects, is_bot, last_slot, first_seen, last_seen`

func scanPlayer(row interface{ Scan(...any) error }) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.Game, &p.ExternalID, &p.Name, &p.Skill, &p.Kills,
		&p.Deaths, &p.Suicides, &p.Headshots, &p.Connects, &p.IsBot, &p.LastSlot,
		&p.FirstSeen, &p.LastSeen)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPlayerByExternalID looks up a player by (external id, game).
// Returns nil, nil when no mapping exists.
func (s *Store) FindPlayerByExternalID(ctx context.Context, externalID, game string) (*domain.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE game = ? AND external_id = ?
	`, game, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertPlayer creates a player for (game, external id) or refreshes the
// display name of the existing one. Safe to retry: the unique key makes the
// operation idempotent.
func (s *Store) UpsertPlayer(ctx context.Context, params domain.UpsertPlayerParams) (*domain.Player, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPlayer(tx.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE game = ? AND external_id = ?
	`, params.Game, params.ExternalID))

	if err == sql.ErrNoRows {
		skill := params.InitialSkill
		if skill == 0 {
			skill = domain.DefaultSkill
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO players (game, external_id, name, skill, is_bot, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, params.Game, params.ExternalID, params.Name, skill, params.IsBot,
			formatTimestamp(now), formatTimestamp(now))
		if err != nil {
			return nil, fmt.Errorf("creating player: %w", err)
		}
		id, _ := result.LastInsertId()
		p = &domain.Player{
			ID:         id,
			Game:       params.Game,
			ExternalID: params.ExternalID,
			Name:       params.Name,
			Skill:      skill,
			IsBot:      params.IsBot,
			FirstSeen:  now,
			LastSeen:   now,
		}
	} else if err != nil {
		return nil, err
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE players SET name = ?, last_seen = ? WHERE id = ?
		`, params.Name, formatTimestamp(now), p.ID); err != nil {
			return nil, err
		}
		p.Name = params.Name
		p.LastSeen = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return p, nil
}

// UpdatePlayerName sets a player's display name
func (s *Store) UpdatePlayerName(ctx context.Context, playerID int64, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE players SET name = ? WHERE id = ?`, name, playerID)
	return err
}

// GetPlayerByID returns a player by durable id
func (s *Store) GetPlayerByID(ctx context.Context, id int64) (*domain.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LastIdentityForPlayer returns the last known on-server identity for a
// player, used to synthesize a fallback session. Returns nil, nil when the
// player does not exist.
func (s *Store) LastIdentityForPlayer(ctx context.Context, playerID int64) (*domain.PlayerIdentityRecord, error) {
	var rec domain.PlayerIdentityRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, game, is_bot, last_slot FROM players WHERE id = ?
	`, playerID).Scan(&rec.PlayerID, &rec.ExternalID, &rec.Name, &rec.Game, &rec.IsBot, &rec.LastSlot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordPlayerConnect bumps the connect counter and remembers the slot the
// player connected under, for later fallback session synthesis.
func (s *Store) RecordPlayerConnect(ctx context.Context, playerID int64, slot int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE players SET connects = connects + 1, last_slot = ? WHERE id = ?
	`, slot, playerID)
	return err
}

// TopPlayersBySkill returns the leaderboard for a game ordered by rating
func (s *Store) TopPlayersBySkill(ctx context.Context, game string, limit int) ([]domain.LeaderboardEntry, error) {
	return s.topPlayers(ctx, game, "skill", limit)
}

// TopPlayersByKills returns the leaderboard for a game ordered by kills
func (s *Store) TopPlayersByKills(ctx context.Context, game string, limit int) ([]domain.LeaderboardEntry, error) {
	return s.topPlayers(ctx, game, "kills", limit)
}

func (s *Store) topPlayers(ctx context.Context, game, order string, limit int) ([]domain.LeaderboardEntry, error) {
	// order is one of the fixed column names above, never caller input
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE game = ? AND is_bot = FALSE
		ORDER BY `+order+` DESC, kills DESC
		LIMIT ?
	`, game, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{Rank: len(entries) + 1, Player: *p})
	}
	return entries, rows.Err()
}
