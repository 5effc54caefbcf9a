package clipsync

import "sync"

// Cache is a bounded key/value store with oldest-first eviction. It holds
// decrypted content and detection results, so it must never outlive the
// items that fed it: InvalidateMissing is called whenever the visible
// history window changes and Clear on memory pressure or backgrounding.
//
// A single coarse lock is enough here: the caller is effectively
// single-threaded per user session.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[K]V
	order    []K
}

const DefaultCacheCapacity = 20

// NewCache returns a cache bounded to capacity entries. Non-positive
// capacities fall back to DefaultCacheCapacity.
func NewCache[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		entries:  make(map[K]V, capacity),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok
}

// Put stores value under key, evicting the oldest-inserted entry when the
// cache is full. Overwriting an existing key keeps its insertion slot.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

// InvalidateMissing drops every entry whose key is absent from live.
func (c *Cache[K, V]) InvalidateMissing(live map[K]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, key := range c.order {
		if _, ok := live[key]; ok {
			kept = append(kept, key)
			continue
		}
		delete(c.entries, key)
	}
	c.order = kept
}

// Clear flushes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]V, c.capacity)
	c.order = c.order[:0]
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}
