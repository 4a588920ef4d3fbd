package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

// --- Stat counter methods ---
//
// Counters are applied with signed deltas so saga compensation can undo an
// increment without a cross-module transaction.

// AddPlayerKill adjusts a killer's kill (and optionally headshot) counters
func (s *Store) AddPlayerKill(ctx context.Context, playerID int64, headshot bool, delta int64) error {
	hs := int64(0)
	if headshot {
		hs = delta
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE players SET kills = MAX(0, kills + ?), headshots = MAX(0, headshots + ?) WHERE id = ?
	`, delta, hs, playerID)
	return err
}

// AddPlayerDeath adjusts a victim's death counter
func (s *Store) AddPlayerDeath(ctx context.Context, playerID int64, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE players SET deaths = MAX(0, deaths + ?) WHERE id = ?
	`, delta, playerID)
	return err
}

// AddPlayerSuicide adjusts a player's suicide counter
func (s *Store) AddPlayerSuicide(ctx context.Context, playerID int64, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE players SET suicides = MAX(0, suicides + ?) WHERE id = ?
	`, delta, playerID)
	return err
}

// AddWeaponKill adjusts per-weapon kill totals
func (s *Store) AddWeaponKill(ctx context.Context, game, weapon string, headshot bool, delta int64) error {
	hs := int64(0)
	if headshot {
		hs = delta
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weapon_totals (game, weapon, kills, headshots)
		VALUES (?, ?, MAX(0, ?), MAX(0, ?))
		ON CONFLICT(game, weapon) DO UPDATE SET
			kills = MAX(0, kills + ?),
			headshots = MAX(0, headshots + ?)
	`, game, weapon, delta, hs, delta, hs)
	return err
}

// AddWeaponFire adjusts per-weapon shot/hit totals
func (s *Store) AddWeaponFire(ctx context.Context, game, weapon string, shots, hits int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weapon_totals (game, weapon, shots, hits)
		VALUES (?, ?, MAX(0, ?), MAX(0, ?))
		ON CONFLICT(game, weapon) DO UPDATE SET
			shots = MAX(0, shots + ?),
			hits = MAX(0, hits + ?)
	`, game, weapon, shots, hits, shots, hits)
	return err
}

// AddAction adjusts an action code counter
func (s *Store) AddAction(ctx context.Context, game, code string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_totals (game, code, count)
		VALUES (?, ?, MAX(0, ?))
		ON CONFLICT(game, code) DO UPDATE SET count = MAX(0, count + ?)
	`, game, code, delta, delta)
	return err
}

// --- Skill rating methods ---

// ApplySkillChange transfers rating between two players in one transaction
// and records both adjustments against the event id so they can be reverted.
func (s *Store) ApplySkillChange(ctx context.Context, killerID, victimID int64, delta int, eventID string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	changes := []struct {
		playerID int64
		delta    int
	}{
		{killerID, delta},
		{victimID, -delta},
	}
	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE players SET skill = MAX(0, skill + ?) WHERE id = ?
		`, c.delta, c.playerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO skill_changes (player_id, delta, event_id, created_at)
			VALUES (?, ?, ?, ?)
		`, c.playerID, c.delta, eventID, formatTimestamp(now)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RevertSkillChanges undoes every rating adjustment recorded for an event.
// Returns the number of adjustments reverted.
func (s *Store) RevertSkillChanges(ctx context.Context, eventID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, player_id, delta FROM skill_changes WHERE event_id = ?
	`, eventID)
	if err != nil {
		return 0, err
	}
	var changes []domain.SkillChange
	for rows.Next() {
		var c domain.SkillChange
		if err := rows.Scan(&c.ID, &c.PlayerID, &c.Delta); err != nil {
			rows.Close()
			return 0, err
		}
		changes = append(changes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE players SET skill = MAX(0, skill - ?) WHERE id = ?
		`, c.Delta, c.PlayerID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM skill_changes WHERE id = ?`, c.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(changes), nil
}

// SkillForPlayers returns current ratings for the given player ids
func (s *Store) SkillForPlayers(ctx context.Context, killerID, victimID int64) (killerSkill, victimSkill int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT skill FROM players WHERE id = ?`, killerID).Scan(&killerSkill)
	if err == sql.ErrNoRows {
		killerSkill, err = domain.DefaultSkill, nil
	}
	if err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT skill FROM players WHERE id = ?`, victimID).Scan(&victimSkill)
	if err == sql.ErrNoRows {
		victimSkill, err = domain.DefaultSkill, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return killerSkill, victimSkill, nil
}
