package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type leaderboardQuery struct {
	game  string
	limit int
}

func (q leaderboardQuery) Name() string { return "leaderboard.top" }

func (q leaderboardQuery) CacheOptions() Options {
	return Options{
		TTL:        time.Minute,
		KeyPattern: "leaderboard:{game}:top{limit}",
		Properties: map[string]any{"game": q.game, "limit": q.limit},
	}
}

func (q leaderboardQuery) NewResult() any { return &leaderboardResult{} }

type leaderboardResult struct {
	Names []string `json:"names"`
}

type plainQuery struct{}

func (plainQuery) Name() string { return "server.status" }

// serverListQuery is cacheable but sets no TTL of its own.
type serverListQuery struct{}

func (serverListQuery) Name() string          { return "server.list" }
func (serverListQuery) CacheOptions() Options { return Options{} }
func (serverListQuery) NewResult() any        { return &leaderboardResult{} }

// faultyStore wraps a MemoryStore with injectable read/write failures.
type faultyStore struct {
	inner  *MemoryStore
	getErr error
	setErr error
}

func (f *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.inner.Get(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *faultyStore) Delete(ctx context.Context, key string) error { return f.inner.Delete(ctx, key) }

func (f *faultyStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	return f.inner.DeletePattern(ctx, pattern)
}

func (f *faultyStore) Ping(ctx context.Context) error { return f.inner.Ping(ctx) }
func (f *faultyStore) Close() error                   { return f.inner.Close() }

func TestCachedBusReadThrough(t *testing.T) {
	bus := NewBus()
	hits := 0
	err := bus.Register("leaderboard.top", func(ctx context.Context, q Query) (any, error) {
		hits++
		return &leaderboardResult{Names: []string{"alpha", "bravo"}}, nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := NewMemoryStore(0)
	defer store.Close()
	cached := NewCachedBus(bus, store, 0)
	ctx := context.Background()
	q := leaderboardQuery{game: "css", limit: 10}

	for i := 0; i < 3; i++ {
		res, err := cached.Execute(ctx, q)
		if err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
		lb, ok := res.(*leaderboardResult)
		if !ok {
			t.Fatalf("Execute #%d returned %T, want *leaderboardResult", i, res)
		}
		if len(lb.Names) != 2 || lb.Names[0] != "alpha" {
			t.Fatalf("Execute #%d returned %+v", i, lb)
		}
	}
	if hits != 1 {
		t.Errorf("handler ran %d times, want 1 (rest served from cache)", hits)
	}
}

func TestCachedBusTTLExpiry(t *testing.T) {
	bus := NewBus()
	hits := 0
	if err := bus.Register("leaderboard.top", func(ctx context.Context, q Query) (any, error) {
		hits++
		return &leaderboardResult{Names: []string{"alpha"}}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := NewMemoryStore(0)
	defer store.Close()
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }

	cached := NewCachedBus(bus, store, 0)
	ctx := context.Background()
	q := leaderboardQuery{game: "css", limit: 5}

	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hits != 1 {
		t.Fatalf("handler ran %d times before expiry, want 1", hits)
	}

	current = current.Add(2 * time.Minute)
	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("Execute after expiry: %v", err)
	}
	if hits != 2 {
		t.Errorf("handler ran %d times after expiry, want 2", hits)
	}
}

func TestCachedBusDefaultTTL(t *testing.T) {
	bus := NewBus()
	hits := 0
	if err := bus.Register("server.list", func(ctx context.Context, q Query) (any, error) {
		hits++
		return &leaderboardResult{Names: []string{"alpha"}}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := NewMemoryStore(0)
	defer store.Close()
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }

	// The query carries no TTL of its own; the bus default must bound it.
	cached := NewCachedBus(bus, store, time.Minute)
	ctx := context.Background()

	if _, err := cached.Execute(ctx, serverListQuery{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := cached.Execute(ctx, serverListQuery{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hits != 1 {
		t.Fatalf("handler ran %d times within the default TTL, want 1", hits)
	}

	current = current.Add(time.Hour)
	if _, err := cached.Execute(ctx, serverListQuery{}); err != nil {
		t.Fatalf("Execute after expiry: %v", err)
	}
	if hits != 2 {
		t.Errorf("handler ran %d times after the default TTL elapsed, want 2", hits)
	}
}

func TestCachedBusReadFailureIsAMiss(t *testing.T) {
	bus := NewBus()
	hits := 0
	if err := bus.Register("leaderboard.top", func(ctx context.Context, q Query) (any, error) {
		hits++
		return &leaderboardResult{Names: []string{"alpha"}}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	inner := NewMemoryStore(0)
	defer inner.Close()
	store := &faultyStore{inner: inner, getErr: errors.New("connection refused")}

	cached := NewCachedBus(bus, store, 0)
	ctx := context.Background()
	q := leaderboardQuery{game: "css", limit: 5}

	for i := 0; i < 2; i++ {
		res, err := cached.Execute(ctx, q)
		if err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
		if lb := res.(*leaderboardResult); len(lb.Names) != 1 || lb.Names[0] != "alpha" {
			t.Fatalf("Execute #%d returned %+v", i, lb)
		}
	}
	if hits != 2 {
		t.Errorf("handler ran %d times with a broken read path, want 2 (every read is a miss)", hits)
	}
}

func TestCachedBusWriteFailureStillReturnsResult(t *testing.T) {
	bus := NewBus()
	hits := 0
	if err := bus.Register("leaderboard.top", func(ctx context.Context, q Query) (any, error) {
		hits++
		return &leaderboardResult{Names: []string{"alpha"}}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	inner := NewMemoryStore(0)
	defer inner.Close()
	store := &faultyStore{inner: inner, setErr: errors.New("disk full")}

	cached := NewCachedBus(bus, store, 0)
	ctx := context.Background()
	q := leaderboardQuery{game: "css", limit: 5}

	res, err := cached.Execute(ctx, q)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if lb := res.(*leaderboardResult); len(lb.Names) != 1 || lb.Names[0] != "alpha" {
		t.Fatalf("Execute returned %+v", lb)
	}

	// Nothing was cached, so the next execution hits the handler again.
	if _, err := cached.Execute(ctx, q); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if hits != 2 {
		t.Errorf("handler ran %d times with a broken write path, want 2", hits)
	}
}

func TestNoopStoreSubstitutable(t *testing.T) {
	bus := NewBus()
	hits := 0
	if err := bus.Register("leaderboard.top", func(ctx context.Context, q Query) (any, error) {
		hits++
		return &leaderboardResult{Names: []string{"alpha"}}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cached := NewCachedBus(bus, NewNoopStore(), 0)
	ctx := context.Background()
	q := leaderboardQuery{game: "css", limit: 5}

	for i := 0; i < 3; i++ {
		res, err := cached.Execute(ctx, q)
		if err != nil {
			t.Fatalf("Execute #%d: %v", i, err)
		}
		if lb := res.(*leaderboardResult); len(lb.Names) != 1 {
			t.Fatalf("Execute #%d returned %+v", i, lb)
		}
	}
	if hits != 3 {
		t.Errorf("handler ran %d times with noop store, want 3", hits)
	}
}

func TestExecuteUnregisteredQuery(t *testing.T) {
	cached := NewCachedBus(NewBus(), NewNoopStore(), 0)
	if _, err := cached.Execute(context.Background(), plainQuery{}); !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("got %v, want ErrHandlerNotFound", err)
	}
}

func TestDuplicateHandlerRegistration(t *testing.T) {
	bus := NewBus()
	h := func(ctx context.Context, q Query) (any, error) { return nil, nil }
	if err := bus.Register("x", h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := bus.Register("x", h); !errors.Is(err, ErrHandlerRegistered) {
		t.Fatalf("got %v, want ErrHandlerRegistered", err)
	}
}

func TestBuildKeyDeterministic(t *testing.T) {
	a := BuildKey("player.stats", Options{Properties: map[string]any{"id": 7, "game": "css"}})
	b := BuildKey("player.stats", Options{Properties: map[string]any{"game": "css", "id": 7}})
	if a != b {
		t.Errorf("keys differ for equal properties: %q vs %q", a, b)
	}
	if want := "player.stats:game=css:id=7"; a != want {
		t.Errorf("key = %q, want %q", a, want)
	}

	patterned := BuildKey("leaderboard.top", Options{
		KeyPattern: "leaderboard:{game}:top{limit}",
		Properties: map[string]any{"game": "tf", "limit": 25},
	})
	if want := "leaderboard:tf:top25"; patterned != want {
		t.Errorf("patterned key = %q, want %q", patterned, want)
	}
}

func TestInvalidatePattern(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	ctx := context.Background()

	for _, key := range []string{"leaderboard:css:top10", "leaderboard:css:top25", "leaderboard:tf:top10", "player.stats:id=7"} {
		if err := store.Set(ctx, key, []byte("{}"), 0); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	cached := NewCachedBus(NewBus(), store, 0)
	if err := cached.InvalidatePattern(ctx, "leaderboard:css:*"); err != nil {
		t.Fatalf("InvalidatePattern: %v", err)
	}
	if got := store.Len(); got != 2 {
		t.Errorf("%d entries left, want 2", got)
	}
	if _, err := store.Get(ctx, "leaderboard:tf:top10"); err != nil {
		t.Errorf("unrelated entry was invalidated: %v", err)
	}
}
