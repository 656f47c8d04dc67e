// Package cachemem is the embedded Cache implementation: an in-process
// map guarded by a mutex with lazy TTL expiry, used by the embedded
// storage backend and in tests.
package cachemem

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aimemory/platform/pkg/storage"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Cache is a mutex-guarded in-memory key-value store.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

var _ storage.Cache = (*Cache)(nil)

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.entries[key] = entry{value: stored, expires: expires}
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Incr atomically increments a counter stored as a decimal string, useful
// for the apikey subsystem's per-day usage counters. Keeps its own TTL
// refresh on every call so a rolling window advances each increment.
func (c *Cache) Incr(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var current int64
	if e, ok := c.entries[key]; ok && !e.expired(now) {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err == nil {
			current = parsed
		}
	}
	current += delta

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	c.entries[key] = entry{value: []byte(strconv.FormatInt(current, 10)), expires: expires}
	return current, nil
}

func (c *Cache) Ping(_ context.Context) error { return nil }
