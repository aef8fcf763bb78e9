// Package cache memoizes expensive calls, model calls in particular, keyed
// by their serialized arguments.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store holds serialized results. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// MemoryStore is an unbounded in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *MemoryStore) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var defaultStore = NewMemoryStore()

// Cache scopes memoized entries under one cache id. Concurrent calls with
// the same key share a single execution.
type Cache struct {
	id     string
	store  Store
	group  *singleflight.Group
	bypass bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore replaces the process-wide in-memory store.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// Make returns a cache for cacheID. Caches made with the same id and store
// see each other's entries.
func Make(cacheID string, opts ...Option) *Cache {
	c := &Cache{id: cacheID, store: defaultStore, group: new(singleflight.Group)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PassThrough never caches; wrapped functions run on every call.
var PassThrough = &Cache{bypass: true}

// ID returns the cache id.
func (c *Cache) ID() string { return c.id }

func (c *Cache) key(args any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	return c.id + ":" + string(b), nil
}

// Wrap memoizes fn in c. Arguments and results must be JSON serializable.
// Errors are never cached.
func Wrap[A, R any](c *Cache, fn func(ctx context.Context, args A) (R, error)) func(ctx context.Context, args A) (R, error) {
	if c == nil || c.bypass {
		return fn
	}
	return func(ctx context.Context, args A) (R, error) {
		var zero R
		key, err := c.key(args)
		if err != nil {
			return zero, err
		}
		if raw, ok := c.store.Get(key); ok {
			var out R
			if err := json.Unmarshal(raw, &out); err != nil {
				return zero, fmt.Errorf("decode cached result: %w", err)
			}
			return out, nil
		}

		raw, err, _ := c.group.Do(key, func() (any, error) {
			res, err := fn(ctx, args)
			if err != nil {
				return nil, err
			}
			b, err := json.Marshal(res)
			if err != nil {
				return nil, fmt.Errorf("encode result: %w", err)
			}
			c.store.Set(key, b)
			return b, nil
		})
		if err != nil {
			return zero, err
		}
		var out R
		if err := json.Unmarshal(raw.([]byte), &out); err != nil {
			return zero, fmt.Errorf("decode result: %w", err)
		}
		return out, nil
	}
}
