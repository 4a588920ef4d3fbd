package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

type stubResolver struct {
	ids  map[string]int64
	next int64
}

func (r *stubResolver) Resolve(ctx context.Context, externalID, displayName, gameCode string, serverID int64) (int64, error) {
	if externalID == "" {
		return 0, errors.New("empty id")
	}
	if r.ids == nil {
		r.ids = make(map[string]int64)
	}
	if id, ok := r.ids[externalID]; ok {
		return id, nil
	}
	r.next++
	r.ids[externalID] = r.next
	return r.next, nil
}

type stubLookup struct {
	records map[int64]*domain.PlayerIdentityRecord
	err     error
}

func (l *stubLookup) LastIdentityForPlayer(ctx context.Context, playerID int64) (*domain.PlayerIdentityRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.records[playerID], nil
}

func TestSessionReplacementOnReconnect(t *testing.T) {
	table := NewTable(&stubResolver{}, nil)

	table.CreateSession(1, 7, 100, "STEAM_0:1:111", "First", false)
	table.CreateSession(1, 7, 200, "STEAM_0:1:222", "Second", false)

	if n := table.Count(1); n != 1 {
		t.Fatalf("expected exactly one session for slot 7, got %d sessions", n)
	}
	s := table.Get(1, 7)
	if s == nil || s.PlayerID != 200 || s.Name != "Second" {
		t.Errorf("slot 7 should reflect the second identity, got %+v", s)
	}

	// The first player's index entry must be gone.
	if table.CanTarget(context.Background(), 1, 100) {
		t.Error("replaced player 100 should no longer be targetable")
	}
}

func TestSynchronizeIsAuthoritative(t *testing.T) {
	table := NewTable(&stubResolver{}, nil)
	table.CreateSession(1, 3, 50, "STEAM_0:1:333", "Stale", false)

	roster := &domain.RosterSnapshot{
		PlayerList: []domain.RosterEntry{
			{Name: "Alice", GameUserID: 10, ExternalID: "STEAM_0:1:100"},
			{Name: "Chip", GameUserID: 11, ExternalID: "BOT", IsBot: true},
			{Name: "Bob", GameUserID: 12, ExternalID: "STEAM_0:1:101"},
		},
	}

	count, err := table.Synchronize(context.Background(), 1, "css", roster, false)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 sessions created, got %d", count)
	}
	if table.Get(1, 3) != nil {
		t.Error("stale session for slot 3 survived synchronization")
	}

	// With ignoreBots, the bot entry is skipped.
	count, err = table.Synchronize(context.Background(), 1, "css", roster, true)
	if err != nil {
		t.Fatalf("synchronize ignoring bots: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 sessions with bots ignored, got %d", count)
	}
}

func TestSynchronizePreservesConnectedAt(t *testing.T) {
	table := NewTable(&stubResolver{}, nil)

	start := time.Now().UTC()
	table.now = func() time.Time { return start }

	roster := &domain.RosterSnapshot{
		PlayerList: []domain.RosterEntry{
			{Name: "Alice", GameUserID: 10, ExternalID: "STEAM_0:1:100"},
		},
	}
	if _, err := table.Synchronize(context.Background(), 1, "css", roster, false); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	// Alice is still on ten minutes later; her connect time must not slide.
	table.now = func() time.Time { return start.Add(10 * time.Minute) }
	if _, err := table.Synchronize(context.Background(), 1, "css", roster, false); err != nil {
		t.Fatalf("second synchronize: %v", err)
	}
	s := table.Get(1, 10)
	if s == nil {
		t.Fatal("session lost across polls")
	}
	if !s.ConnectedAt.Equal(start) {
		t.Errorf("ConnectedAt = %v, want the original %v", s.ConnectedAt, start)
	}
	if table.HasRecentConnect(1, 10, 5*time.Minute) {
		t.Error("a 10 minute old connect should be outside a 5 minute window")
	}

	// A different identity taking the slot gets a fresh connect time.
	roster.PlayerList[0] = domain.RosterEntry{Name: "Mallory", GameUserID: 10, ExternalID: "STEAM_0:1:666"}
	if _, err := table.Synchronize(context.Background(), 1, "css", roster, false); err != nil {
		t.Fatalf("third synchronize: %v", err)
	}
	s = table.Get(1, 10)
	if s == nil || !s.ConnectedAt.Equal(start.Add(10*time.Minute)) {
		t.Errorf("slot takeover should reset ConnectedAt, got %+v", s)
	}
}

func TestSynchronizeOnlyClearsTargetServer(t *testing.T) {
	table := NewTable(&stubResolver{}, nil)
	table.CreateSession(2, 1, 99, "STEAM_0:1:999", "Elsewhere", false)

	_, err := table.Synchronize(context.Background(), 1, "css", &domain.RosterSnapshot{}, false)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if table.Get(2, 1) == nil {
		t.Error("synchronizing server 1 must not clear server 2's sessions")
	}
}

func TestMapPlayerIDsToSlots(t *testing.T) {
	lookup := &stubLookup{records: map[int64]*domain.PlayerIdentityRecord{
		300: {PlayerID: 300, ExternalID: "STEAM_0:1:300", Name: "Ghost", LastSlot: 9},
	}}
	table := NewTable(&stubResolver{}, lookup)

	table.CreateSession(1, 4, 100, "STEAM_0:1:100", "Alice", false)
	table.CreateSession(1, 5, 200, "BOT", "Chip", true)

	slots := table.MapPlayerIDsToSlots(context.Background(), 1, []int64{100, 200, 300, 999})

	// 100 is live (slot 4); 200 is a bot (excluded); 300 gets a synthesized
	// session (slot 9 from storage); 999 is unknown (omitted).
	want := []int{4, 9}
	if len(slots) != len(want) {
		t.Fatalf("got slots %v, want %v", slots, want)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("got slots %v, want %v", slots, want)
		}
	}

	// The synthesized session is now live.
	if !table.CanTarget(context.Background(), 1, 300) {
		t.Error("player 300 should be targetable after fallback synthesis")
	}
}

func TestCanTargetNeverErrors(t *testing.T) {
	table := NewTable(&stubResolver{}, &stubLookup{err: errors.New("storage down")})
	if table.CanTarget(context.Background(), 1, 42) {
		t.Error("CanTarget should be false when lookup fails")
	}
}

func TestHasRecentConnect(t *testing.T) {
	table := NewTable(&stubResolver{}, nil)

	now := time.Now().UTC()
	table.now = func() time.Time { return now }
	table.CreateSession(1, 7, 100, "STEAM_0:1:100", "Alice", false)

	// Inside the window.
	table.now = func() time.Time { return now.Add(2 * time.Minute) }
	if !table.HasRecentConnect(1, 7, 5*time.Minute) {
		t.Error("connect 2 minutes ago should be within a 5 minute window")
	}

	// Outside the window.
	table.now = func() time.Time { return now.Add(6 * time.Minute) }
	if table.HasRecentConnect(1, 7, 5*time.Minute) {
		t.Error("connect 6 minutes ago should be outside a 5 minute window")
	}

	if table.HasRecentConnect(1, 8, 5*time.Minute) {
		t.Error("unknown slot should never report a recent connect")
	}
}
