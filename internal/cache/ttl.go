// Package cache provides small bounded in-process caches.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt int64
}

// TTLCache maps keys to values with a time-to-live and a size bound. When the
// bound is exceeded the entry stored longest ago is evicted.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Options configures a TTLCache. A zero TTL never expires entries; a zero
// MaxSize disables the cache entirely.
type Options struct {
	TTL     time.Duration
	MaxSize int
}

// NewTTLCache creates a cache with the given options.
func NewTTLCache[V any](opts Options) *TTLCache[V] {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &TTLCache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || key == "" {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(e, c.now().UnixMilli()) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting as needed.
func (c *TTLCache[V]) Set(key string, value V) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return
	}
	now := c.now().UnixMilli()
	c.entries[key] = entry[V]{value: value, storedAt: now}
	c.prune(now)
}

// Remove deletes key.
func (c *TTLCache[V]) Remove(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Sweep() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.prune(c.now().UnixMilli())
	return before - len(c.entries)
}

// Size returns the current number of entries.
func (c *TTLCache[V]) Size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

func (c *TTLCache[V]) expired(e entry[V], nowUnix int64) bool {
	return c.ttl > 0 && nowUnix-e.storedAt >= c.ttl.Milliseconds()
}

// prune removes expired and excess entries. Caller holds mu.
func (c *TTLCache[V]) prune(nowUnix int64) {
	if c.ttl > 0 {
		for key, e := range c.entries {
			if c.expired(e, nowUnix) {
				delete(c.entries, key)
			}
		}
	}

	for len(c.entries) > c.maxSize {
		var oldestKey string
		oldestTs := int64(^uint64(0) >> 1)
		for k, e := range c.entries {
			if e.storedAt < oldestTs {
				oldestTs = e.storedAt
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}
