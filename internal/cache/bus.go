package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

// ErrHandlerNotFound is returned when a query has no registered handler.
var ErrHandlerNotFound = errors.New("cache: no handler registered for query")

// ErrHandlerRegistered is returned on duplicate handler registration.
var ErrHandlerRegistered = errors.New("cache: handler already registered")

// Query is a named read request. The name selects the handler and prefixes
// the cache key.
type Query interface {
	Name() string
}

// Cacheable marks a query whose result may be served from cache. NewResult
// returns a fresh pointer of the handler's result type so cached JSON can be
// decoded back into it.
type Cacheable interface {
	Query
	CacheOptions() Options
	NewResult() any
}

// Options controls how one query's results are cached.
type Options struct {
	// TTL of a cached result; zero falls back to the bus default.
	TTL time.Duration
	// KeyPattern optionally templates the cache key with {field}
	// placeholders filled from Properties. When empty the key is the
	// query name followed by the properties in sorted order.
	KeyPattern string
	// Properties are the query parameters that distinguish one result
	// from another. Two queries with equal properties share a key.
	Properties map[string]any
}

// Handler executes a query against the source of truth.
type Handler func(ctx context.Context, q Query) (any, error)

// Bus is an explicit query-handler registry. Handlers are registered during
// wiring; Execute rejects queries nothing handles.
type Bus struct {
	handlers map[string]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Register binds a handler to a query name.
func (b *Bus) Register(name string, h Handler) error {
	if _, ok := b.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, name)
	}
	b.handlers[name] = h
	return nil
}

// Execute runs the query's handler.
func (b *Bus) Execute(ctx context.Context, q Query) (any, error) {
	h, ok := b.handlers[q.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, q.Name())
	}
	return h(ctx, q)
}

// CachedBus layers a read-through, write-through result cache over a Bus.
// Cache failures never fail a query: a broken read is a miss, a broken write
// is logged and the fresh result is returned anyway.
type CachedBus struct {
	bus        *Bus
	store      Store
	defaultTTL time.Duration
}

// NewCachedBus wraps bus with store. Queries whose Options carry no TTL are
// cached for defaultTTL; zero means those entries never expire. Pass a
// NoopStore to disable caching without touching the call sites.
func NewCachedBus(bus *Bus, store Store, defaultTTL time.Duration) *CachedBus {
	return &CachedBus{bus: bus, store: store, defaultTTL: defaultTTL}
}

// Execute serves the query from cache when possible, falling through to the
// handler and caching its result otherwise. Non-cacheable queries pass
// straight through.
func (c *CachedBus) Execute(ctx context.Context, q Query) (any, error) {
	cq, ok := q.(Cacheable)
	if !ok {
		return c.bus.Execute(ctx, q)
	}

	opts := cq.CacheOptions()
	key := BuildKey(q.Name(), opts)

	if data, err := c.store.Get(ctx, key); err == nil {
		result := cq.NewResult()
		if err := json.Unmarshal(data, result); err == nil {
			return result, nil
		}
		// Corrupt entry: drop it and refetch.
		log.Printf("Cache: discarding undecodable entry %s", key)
		if err := c.store.Delete(ctx, key); err != nil {
			log.Printf("Cache: delete %s failed: %v", key, err)
		}
	} else if !errors.Is(err, ErrNotFound) {
		log.Printf("Cache: read %s failed, treating as miss: %v", key, err)
	}

	result, err := c.bus.Execute(ctx, q)
	if err != nil {
		return nil, err
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if data, err := json.Marshal(result); err != nil {
		log.Printf("Cache: cannot encode result for %s: %v", key, err)
	} else if err := c.store.Set(ctx, key, data, ttl); err != nil {
		log.Printf("Cache: write %s failed: %v", key, err)
	}
	return result, nil
}

// InvalidateKey removes a single cached result.
func (c *CachedBus) InvalidateKey(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// InvalidatePattern removes every cached result matching the pattern.
func (c *CachedBus) InvalidatePattern(ctx context.Context, pattern string) error {
	n, err := c.store.DeletePattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", pattern, err)
	}
	if n > 0 {
		log.Printf("Cache: invalidated %d entries matching %s", n, pattern)
	}
	return nil
}

// BuildKey derives the cache key for a query. A KeyPattern has its {field}
// placeholders substituted from the properties; otherwise the key is the
// query name with the properties appended in sorted order, so equal
// properties always yield equal keys.
func BuildKey(name string, opts Options) string {
	if opts.KeyPattern != "" {
		key := opts.KeyPattern
		for field, value := range opts.Properties {
			key = strings.ReplaceAll(key, "{"+field+"}", fmt.Sprintf("%v", value))
		}
		return key
	}

	if len(opts.Properties) == 0 {
		return name
	}
	fields := make([]string, 0, len(opts.Properties))
	for field := range opts.Properties {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var sb strings.Builder
	sb.WriteString(name)
	for _, field := range fields {
		fmt.Fprintf(&sb, ":%s=%v", field, opts.Properties[field])
	}
	return sb.String()
}
