package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ernie/hlstatsd/internal/domain"
)

// fakeStore counts upserts and hands out sequential ids per unique identity.
type fakeStore struct {
	mu      sync.Mutex
	upserts int64
	delay   time.Duration
	failing bool
	players map[string]int64
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{players: make(map[string]int64)}
}

func (f *fakeStore) UpsertPlayer(ctx context.Context, params domain.UpsertPlayerParams) (*domain.Player, error) {
	atomic.AddInt64(&f.upserts, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failing {
		return nil, errors.New("database unavailable")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := params.Game + "/" + params.ExternalID
	id, ok := f.players[key]
	if !ok {
		f.nextID++
		id = f.nextID
		f.players[key] = id
	}
	return &domain.Player{ID: id, Game: params.Game, ExternalID: params.ExternalID, Name: params.Name}, nil
}

func TestResolveConcurrentDedup(t *testing.T) {
	store := newFakeStore()
	store.delay = 10 * time.Millisecond
	r := NewResolver(store, "css")

	const callers = 20
	ids := make([]int64, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = r.Resolve(context.Background(), "STEAM_0:1:12345", "Player One", "css", 1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got id %d, want %d", i, ids[i], ids[0])
		}
	}
	if n := atomic.LoadInt64(&store.upserts); n != 1 {
		t.Errorf("expected exactly 1 upsert, got %d", n)
	}
}

func TestResolveBotIsolationAcrossServers(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, "css")

	id5, err := r.Resolve(context.Background(), "BOT", "Ace", "css", 5)
	if err != nil {
		t.Fatalf("resolve bot on server 5: %v", err)
	}
	id6, err := r.Resolve(context.Background(), "BOT", "Ace", "css", 6)
	if err != nil {
		t.Fatalf("resolve bot on server 6: %v", err)
	}
	if id5 == id6 {
		t.Errorf("bot Ace on servers 5 and 6 resolved to the same player id %d", id5)
	}

	// Same bot on the same server stays stable.
	again, err := r.Resolve(context.Background(), "bot", "Ace", "css", 5)
	if err != nil {
		t.Fatalf("re-resolve bot: %v", err)
	}
	if again != id5 {
		t.Errorf("bot Ace on server 5 resolved to %d, want %d", again, id5)
	}
}

func TestResolveValidation(t *testing.T) {
	r := NewResolver(newFakeStore(), "css")

	cases := []struct {
		name        string
		externalID  string
		displayName string
	}{
		{"empty external id", "", "Someone"},
		{"empty display name", "STEAM_0:1:12345", "   "},
		{"malformed steam id", "not-a-steam-id", "Someone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tc.externalID, tc.displayName, "css", 1)
			if !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("got %v, want ErrInvalidIdentity", err)
			}
		})
	}

	// Accepted shapes.
	for _, id := range []string{"STEAM_0:1:12345", "[U:1:24690]", "76561197960287930"} {
		if _, err := r.Resolve(context.Background(), id, "Someone", "css", 1); err != nil {
			t.Errorf("id %q rejected: %v", id, err)
		}
	}
}

func TestResolveFailurePermitsRetry(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	r := NewResolver(store, "css")

	if _, err := r.Resolve(context.Background(), "STEAM_0:1:555", "Flaky", "css", 1); err == nil {
		t.Fatal("expected failure from failing store")
	}

	store.failing = false
	id, err := r.Resolve(context.Background(), "STEAM_0:1:555", "Flaky", "css", 1)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if id == 0 {
		t.Error("retry returned zero player id")
	}
	if n := atomic.LoadInt64(&store.upserts); n != 2 {
		t.Errorf("expected 2 upserts (failure then retry), got %d", n)
	}
}

func TestResolveGameAliasNormalization(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, "css")

	id1, err := r.Resolve(context.Background(), "STEAM_0:1:777", "Alias", "cstrike", 1)
	if err != nil {
		t.Fatalf("resolve with alias: %v", err)
	}
	id2, err := r.Resolve(context.Background(), "STEAM_0:1:777", "Alias", "CSS", 1)
	if err != nil {
		t.Fatalf("resolve with canonical: %v", err)
	}
	if id1 != id2 {
		t.Errorf("alias and canonical game codes resolved to different players: %d vs %d", id1, id2)
	}
}
