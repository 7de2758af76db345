// Package cache provides a TTL cache with single-flight request coalescing
// around expensive fetchers.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache memoises fetcher results per key. Concurrent callers for a missing key
// attach to one underlying fetch and observe the same value or the same
// failure. Failures are never cached; the next caller issues a fresh fetch.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group
	now     func() time.Time

	onHit      func()
	onMiss     func()
	onCoalesce func()
}

// New builds an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// OnEvent installs optional hit/miss/coalesce counters.
func (c *Cache[V]) OnEvent(hit, miss, coalesce func()) {
	c.onHit, c.onMiss, c.onCoalesce = hit, miss, coalesce
}

// GetOrFetch returns the cached value for key, or runs fetch and caches the
// result for ttl. The fetch runs on a context detached from the first caller's
// cancellation so that one departing waiter cannot fail the flight for the
// rest; the fetcher is expected to carry its own timeout. Waiters themselves
// stop waiting as soon as their own context is done.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		if c.onHit != nil {
			c.onHit()
		}
		return v, nil
	}
	if c.onMiss != nil {
		c.onMiss()
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Re-check: a finished flight may have populated the entry between
		// our lookup and joining the group.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(key, v, ttl)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared && c.onCoalesce != nil {
			c.onCoalesce()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Peek returns the cached value without fetching.
func (c *Cache[V]) Peek(key string) (V, bool) {
	return c.lookup(key)
}

// Invalidate drops an entry.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep removes expired entries and reports how many were dropped. Correctness
// does not depend on it; it only bounds memory in a long-lived process.
func (c *Cache[V]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, e := range c.entries {
		if !e.expiresAt.After(now) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiresAt.After(c.now()) {
		// lazy eviction
		c.mu.Lock()
		if stored, still := c.entries[key]; still && !stored.expiresAt.After(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) store(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
