// Package session tracks live per-server connections: which in-game slot
// belongs to which durable player right now. Slots are only meaningful within
// one server for one connection lifetime, so records are keyed by
// (server id, game user id) and replaced, never merged, across reconnects.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

// Resolver resolves an ephemeral identity to a durable player id.
type Resolver interface {
	Resolve(ctx context.Context, externalID, displayName, gameCode string, serverID int64) (int64, error)
}

// IdentityLookup fetches a player's last known on-server identity from
// durable storage, for fallback session synthesis.
type IdentityLookup interface {
	LastIdentityForPlayer(ctx context.Context, playerID int64) (*domain.PlayerIdentityRecord, error)
}

// Session is one connected participant on one server.
type Session struct {
	ServerID    int64
	GameUserID  int
	PlayerID    int64
	ExternalID  string
	Name        string
	IsBot       bool
	ConnectedAt time.Time
	LastSeen    time.Time
}

type slotKey struct {
	serverID   int64
	gameUserID int
}

// Table is the in-memory session table. All mutation goes through its
// methods; nothing else touches the map.
type Table struct {
	resolver Resolver
	lookup   IdentityLookup
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[slotKey]*Session
	// byPlayer indexes live sessions per server for slot lookups
	byPlayer map[int64]map[int64]slotKey // serverID -> playerID -> slot
}

// NewTable creates an empty session table.
func NewTable(resolver Resolver, lookup IdentityLookup) *Table {
	return &Table{
		resolver: resolver,
		lookup:   lookup,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[slotKey]*Session),
		byPlayer: make(map[int64]map[int64]slotKey),
	}
}

// CreateSession inserts or replaces the session for (serverID, gameUserID).
// A reconnect reusing the slot simply overwrites the stale record.
func (t *Table) CreateSession(serverID int64, gameUserID int, playerID int64, externalID, name string, isBot bool) *Session {
	now := t.now()
	s := &Session{
		ServerID:    serverID,
		GameUserID:  gameUserID,
		PlayerID:    playerID,
		ExternalID:  externalID,
		Name:        name,
		IsBot:       isBot,
		ConnectedAt: now,
		LastSeen:    now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(s)
	return s
}

func (t *Table) insertLocked(s *Session) {
	key := slotKey{serverID: s.ServerID, gameUserID: s.GameUserID}
	if old, ok := t.sessions[key]; ok {
		t.dropPlayerIndexLocked(old)
	}
	t.sessions[key] = s
	if t.byPlayer[s.ServerID] == nil {
		t.byPlayer[s.ServerID] = make(map[int64]slotKey)
	}
	t.byPlayer[s.ServerID][s.PlayerID] = key
}

func (t *Table) dropPlayerIndexLocked(s *Session) {
	if players, ok := t.byPlayer[s.ServerID]; ok {
		if key, ok := players[s.PlayerID]; ok && key.gameUserID == s.GameUserID {
			delete(players, s.PlayerID)
		}
	}
}

// Get returns the live session for a slot, or nil.
func (t *Table) Get(serverID int64, gameUserID int) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.sessions[slotKey{serverID: serverID, gameUserID: gameUserID}]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// Touch updates the last-seen timestamp for a slot.
func (t *Table) Touch(serverID int64, gameUserID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[slotKey{serverID: serverID, gameUserID: gameUserID}]; ok {
		s.LastSeen = t.now()
	}
}

// RemoveSession deletes the session for a slot (player disconnect).
func (t *Table) RemoveSession(serverID int64, gameUserID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := slotKey{serverID: serverID, gameUserID: gameUserID}
	if s, ok := t.sessions[key]; ok {
		t.dropPlayerIndexLocked(s)
		delete(t.sessions, key)
	}
}

// ClearServer drops every session for a server (server restart).
func (t *Table) ClearServer(serverID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearServerLocked(serverID)
}

func (t *Table) clearServerLocked(serverID int64) {
	for key := range t.sessions {
		if key.serverID == serverID {
			delete(t.sessions, key)
		}
	}
	delete(t.byPlayer, serverID)
}

// Count returns the number of live sessions for a server.
func (t *Table) Count(serverID int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for key := range t.sessions {
		if key.serverID == serverID {
			n++
		}
	}
	return n
}

// Synchronize replaces all sessions for a server with the polled roster.
// The roster is authoritative: players absent from it lose their session even
// if one existed before this poll cycle. A slot still held by the same
// identity keeps its original ConnectedAt, so connect recency survives
// repeated polls. Bot entries are skipped when ignoreBots is set. Returns the
// number of sessions created.
func (t *Table) Synchronize(ctx context.Context, serverID int64, game string, roster *domain.RosterSnapshot, ignoreBots bool) (int, error) {
	fresh := make([]*Session, 0, len(roster.PlayerList))
	now := t.now()

	for _, entry := range roster.PlayerList {
		if ignoreBots && entry.IsBot {
			continue
		}
		playerID, err := t.resolver.Resolve(ctx, entry.ExternalID, entry.Name, game, serverID)
		if err != nil {
			log.Printf("Session sync: skipping slot %d on server %d: %v", entry.GameUserID, serverID, err)
			continue
		}
		fresh = append(fresh, &Session{
			ServerID:    serverID,
			GameUserID:  entry.GameUserID,
			PlayerID:    playerID,
			ExternalID:  entry.ExternalID,
			Name:        entry.Name,
			IsBot:       entry.IsBot,
			ConnectedAt: now,
			LastSeen:    now,
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range fresh {
		key := slotKey{serverID: s.ServerID, gameUserID: s.GameUserID}
		if old, ok := t.sessions[key]; ok && old.ExternalID == s.ExternalID {
			s.ConnectedAt = old.ConnectedAt
		}
	}
	t.clearServerLocked(serverID)
	for _, s := range fresh {
		t.insertLocked(s)
	}
	return len(fresh), nil
}

// MapPlayerIDsToSlots looks up live slot numbers for a batch of durable
// player ids. Ids with no live session are silently omitted unless a fallback
// session can be synthesized from durable storage. Bot sessions are never
// returned: their slots cannot address a human recipient.
func (t *Table) MapPlayerIDsToSlots(ctx context.Context, serverID int64, playerIDs []int64) []int {
	slots := make([]int, 0, len(playerIDs))
	for _, playerID := range playerIDs {
		if s := t.liveSession(serverID, playerID); s != nil {
			if !s.IsBot {
				slots = append(slots, s.GameUserID)
			}
			continue
		}
		if s := t.synthesizeSession(ctx, serverID, playerID); s != nil && !s.IsBot {
			slots = append(slots, s.GameUserID)
		}
	}
	return slots
}

// CanTarget reports whether a live, non-bot session exists for the player
// (or one could be synthesized). Used before sending any slot-addressed
// message.
func (t *Table) CanTarget(ctx context.Context, serverID, playerID int64) bool {
	if s := t.liveSession(serverID, playerID); s != nil {
		return !s.IsBot
	}
	s := t.synthesizeSession(ctx, serverID, playerID)
	return s != nil && !s.IsBot
}

// HasRecentConnect reports whether the slot's session connected within the
// given window.
func (t *Table) HasRecentConnect(serverID int64, gameUserID int, window time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[slotKey{serverID: serverID, gameUserID: gameUserID}]
	if !ok {
		return false
	}
	return t.now().Sub(s.ConnectedAt) <= window
}

func (t *Table) liveSession(serverID, playerID int64) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if players, ok := t.byPlayer[serverID]; ok {
		if key, ok := players[playerID]; ok {
			if s, ok := t.sessions[key]; ok {
				copied := *s
				return &copied
			}
		}
	}
	return nil
}

// synthesizeSession builds a best-effort session from durable storage when a
// consumer references a player with no live connection (e.g. reconnected
// under a new slot between poll cycles). Returns nil and logs on failure; it
// never propagates an error.
func (t *Table) synthesizeSession(ctx context.Context, serverID, playerID int64) *Session {
	if t.lookup == nil {
		return nil
	}
	rec, err := t.lookup.LastIdentityForPlayer(ctx, playerID)
	if err != nil {
		log.Printf("Warning: fallback session lookup failed for player %d on server %d: %v", playerID, serverID, err)
		return nil
	}
	if rec == nil || rec.LastSlot <= 0 {
		log.Printf("Warning: no identity on record to synthesize session for player %d on server %d", playerID, serverID)
		return nil
	}

	log.Printf("Synthesizing session for player %d on server %d (slot %d)", playerID, serverID, rec.LastSlot)
	return t.CreateSession(serverID, rec.LastSlot, playerID, rec.ExternalID, rec.Name, rec.IsBot)
}
