// Package cache holds the bounded explanation cache that sits beside the
// upstream client on the explain path.
package cache

import (
	"sync"
)

// DefaultCapacity bounds the explanation cache when no capacity is configured.
const DefaultCapacity = 1000

// Key identifies a cached explanation.
type Key struct {
	Term       string
	LanguageID string
}

// ExplainCache is a fixed-capacity map from (term, languageId) to previously
// fetched Markdown. Eviction is by insertion order: once capacity is exceeded
// the oldest inserted entry is removed. This is deliberately not an LRU -
// reads do not refresh an entry's position.
type ExplainCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[Key]string
	order    []Key // insertion order, oldest first
}

// New creates an explanation cache. Non-positive capacities fall back to
// DefaultCapacity.
func New(capacity int) *ExplainCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ExplainCache{
		capacity: capacity,
		entries:  make(map[Key]string, capacity),
		order:    make([]Key, 0, capacity),
	}
}

// Get returns the cached Markdown for key, if present.
func (c *ExplainCache) Get(key Key) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	return value, ok
}

// Put inserts or overwrites the entry for key. Overwriting keeps the key's
// original insertion position. If the insertion pushes the cache over
// capacity, exactly one entry - the oldest inserted - is evicted.
func (c *ExplainCache) Put(key Key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}

	c.entries[key] = value
	c.order = append(c.order, key)

	if len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the number of cached entries.
func (c *ExplainCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Capacity returns the configured capacity.
func (c *ExplainCache) Capacity() int {
	return c.capacity
}
