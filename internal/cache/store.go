// Package cache provides the query bus and its read-through result cache.
// The cache is strictly an accelerator: every failure degrades to a miss and
// swapping in the no-op store leaves query results unchanged.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the backing key-value store for cached query results. Values are
// opaque byte slices; serialization is the caller's concern.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key matching the glob-style pattern,
	// where '*' matches any run of characters. Returns the number removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// NoopStore satisfies Store without storing anything. Every read misses and
// every write succeeds, so a system wired with it behaves as if caching were
// disabled.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (*NoopStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrNotFound }

func (*NoopStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (*NoopStore) Delete(ctx context.Context, key string) error { return nil }

func (*NoopStore) DeletePattern(ctx context.Context, pattern string) (int, error) { return 0, nil }

func (*NoopStore) Ping(ctx context.Context) error { return nil }

func (*NoopStore) Close() error { return nil }
