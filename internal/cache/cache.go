package cache

import (
	"sync"
	"time"
)

// Key identifies a cached content query.
type Key struct {
	Handle      string
	ContentType string
}

type entry struct {
	value    any
	cachedAt time.Time
}

// Cache is a short-TTL memoization of content query results. It is purely
// an optimization: losing it is never a correctness issue. Eviction is
// lazy, on read.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[Key]entry
	now     func() time.Time
}

// New creates a cache with the given TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[Key]entry),
		now:     time.Now,
	}
}

// Get returns the cached value and its age. A value whose age has reached
// the TTL is never served.
func (c *Cache) Get(key Key) (any, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	age := c.now().Sub(e.cachedAt)
	if age >= c.ttl {
		delete(c.entries, key)
		return nil, 0, false
	}
	return e.value, age, true
}

// Set stores a value for the key, stamped with the current time.
func (c *Cache) Set(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, cachedAt: c.now()}
}

// Invalidate drops every entry for the given handle.
func (c *Cache) Invalidate(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.Handle == handle {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetClock overrides the time source, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
