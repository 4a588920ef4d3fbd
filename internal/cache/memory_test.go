package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreExpiredEntryReadsAsMiss(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("expired entry not reclaimed, %d entries left", store.Len())
	}
}

func TestMemoryStoreExpireKeepsReplacedEntry(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	current = current.Add(2 * time.Minute)

	// A writer replaces the entry after a reader saw it expired but before
	// the reader's delete runs. The delete must leave the new entry alone.
	if err := store.Set(ctx, "k", []byte("fresh"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	store.expire("k")

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("fresh entry was deleted: %v", err)
	}
	if string(got) != "fresh" {
		t.Errorf("Get = %q, want %q", got, "fresh")
	}
}

func TestMemoryStoreSweepReclaimsExpired(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	current := time.Unix(1700000000, 0)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	if err := store.Set(ctx, "stale", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "live", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	current = current.Add(10 * time.Minute)
	store.sweep()

	if store.Len() != 1 {
		t.Fatalf("%d entries after sweep, want 1", store.Len())
	}
	if _, err := store.Get(ctx, "live"); err != nil {
		t.Errorf("live entry swept: %v", err)
	}
}
