// Package cache provides the in-memory TTL stores behind the calculation
// cache and the edit-session store.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with TTL. A sliding cache
// refreshes an entry's deadline on every read, so the TTL measures
// inactivity rather than age.
type InMemory[T any] struct {
	mu      sync.Mutex
	items   map[string]entry[T]
	ttl     time.Duration
	sliding bool
}

// New creates a cache whose entries expire a fixed TTL after Set.
func New[T any](ttl time.Duration) *InMemory[T] {
	return newCache[T](ttl, false)
}

// NewSliding creates a cache whose entries expire after the TTL passes
// without a read. Used for the session store: an actively edited session
// never expires under a reviewer's hands, an abandoned one does.
func NewSliding[T any](ttl time.Duration) *InMemory[T] {
	return newCache[T](ttl, true)
}

func newCache[T any](ttl time.Duration, sliding bool) *InMemory[T] {
	c := &InMemory[T]{
		items:   make(map[string]entry[T]),
		ttl:     ttl,
		sliding: sliding,
	}
	go c.cleanup()
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	if c.sliding {
		e.expiresAt = time.Now().Add(c.ttl)
		c.items[key] = e
	}
	return e.value, true
}

// Set stores a value in the cache with the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// cleanup periodically drops expired entries so abandoned keys do not
// accumulate between reads.
func (c *InMemory[T]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}
