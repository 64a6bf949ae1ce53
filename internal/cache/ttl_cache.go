// Package cache provides the in-process caching primitives used by the sync
// engine: a generic TTL cache, the invalid-symbol negative cache built on
// it, and a Redis-backed snapshot cache for sharing the latest prices with
// other processes.
package cache

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTLCache is a concurrency-safe map whose entries expire after a fixed
// time-to-live. Expired entries are treated as absent on lookup and reaped
// lazily; Purge removes them eagerly.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]ttlEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

// NewTTLCache creates a TTL cache. A non-positive ttl means entries never
// expire.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries: make(map[K]ttlEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the cache's time source. Tests only.
func (c *TTLCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Set stores a value under key, resetting its insertion time.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: value, insertedAt: c.now()}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.expired(entry, now) {
		c.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Update applies fn to the current value for key, if present and fresh,
// keeping the original insertion time. Used for in-place patches that must
// not extend an entry's life.
func (c *TTLCache[K, V]) Update(key K, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || c.expired(entry, c.now()) {
		return false
	}
	entry.value = fn(entry.value)
	c.entries[key] = entry
	return true
}

// Delete removes key from the cache.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge eagerly removes all expired entries and returns how many were
// dropped.
func (c *TTLCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]ttlEntry[V])
}

func (c *TTLCache[K, V]) expired(entry ttlEntry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(entry.insertedAt) >= c.ttl
}
