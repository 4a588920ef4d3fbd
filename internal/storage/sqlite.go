package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Server methods ---

// UpsertServer creates or updates a server, keyed by address
func (s *Store) UpsertServer(ctx context.Context, srv *domain.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (name, address, game)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			game = excluded.game
	`, srv.Name, srv.Address, srv.Game)
	if err != nil {
		return err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx, "SELECT id FROM servers WHERE address = ?", srv.Address).Scan(&srv.ID)
}

// GetServers returns all servers
func (s *Store) GetServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, game, created_at FROM servers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		var srv domain.Server
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Address, &srv.Game, &srv.CreatedAt); err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// --- Match methods ---

// StartMatch creates a match record for a new map run, ending any match
// still open on the same server.
func (s *Store) StartMatch(ctx context.Context, m *domain.Match) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE matches SET ended_at = ? WHERE server_id = ? AND ended_at IS NULL
	`, formatTimestamp(m.StartedAt), m.ServerID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO matches (uuid, server_id, map_name, game, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.UUID, m.ServerID, m.MapName, m.Game, formatTimestamp(m.StartedAt))
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	m.ID, _ = result.LastInsertId()

	return tx.Commit()
}

// CurrentMatch returns the open match for a server, or nil if none
func (s *Store) CurrentMatch(ctx context.Context, serverID int64) (*domain.Match, error) {
	var m domain.Match
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, server_id, map_name, game, started_at, rounds, kills
		FROM matches WHERE server_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1
	`, serverID).Scan(&m.ID, &m.UUID, &m.ServerID, &m.MapName, &m.Game, &m.StartedAt, &m.Rounds, &m.Kills)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// EndMatch closes an open match
func (s *Store) EndMatch(ctx context.Context, matchID int64, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, formatTimestamp(endedAt), matchID)
	return err
}

// IncrementMatchRounds bumps the round counter for an open match
func (s *Store) IncrementMatchRounds(ctx context.Context, matchID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE matches SET rounds = rounds + 1 WHERE id = ?`, matchID)
	return err
}

// AddMatchKills adjusts the kill counter for a match. Negative deltas are
// used by saga compensation.
func (s *Store) AddMatchKills(ctx context.Context, matchID int64, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE matches SET kills = MAX(0, kills + ?) WHERE id = ?
	`, delta, matchID)
	return err
}

// RecordObjective stores one objective event (bomb plant, flag capture, ...)
func (s *Store) RecordObjective(ctx context.Context, matchID, playerID int64, typ, team string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objective_events (match_id, player_id, type, team, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, matchID, playerID, typ, team, formatTimestamp(at))
	return err
}
