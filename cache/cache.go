// Package cache provides a capacity-bounded in-memory cache with per-entry
// TTL and LRU eviction, for memoizing handler results.
//
// Create one Cache per logical data category (for example a short-TTL order
// cache next to a long-TTL business-profile cache); instances are fully
// independent and never invalidate each other's entries.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// Error variables for cache configuration.
var (
	// ErrInvalidCapacity is returned when the capacity is less than 1.
	ErrInvalidCapacity = errors.New("cache: capacity must be at least 1")

	// ErrInvalidTTL is returned when the default TTL is not positive.
	ErrInvalidTTL = errors.New("cache: default ttl must be positive")
)

// entry is one cached value. Recency is carried by the element's position
// in the cache's order list, not stored here.
type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0 when nothing has been accessed.
	HitRate float64
	// Size is the current number of entries, including not-yet-collected
	// expired ones.
	Size int
}

// Cache is a thread-safe key/value store bounded by capacity. Expired
// entries are dropped lazily on Get; when an insert would exceed capacity
// the least recently used entry is evicted first. Recency is refreshed by
// both Set and a successful Get.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	capacity   int
	defaultTTL time.Duration

	hits   uint64
	misses uint64

	now func() time.Time
}

// New creates a cache holding at most capacity entries, expiring them
// defaultTTL after each write unless SetWithTTL overrides it.
func New(capacity int, defaultTTL time.Duration) (*Cache, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if defaultTTL <= 0 {
		return nil, ErrInvalidTTL
	}
	return &Cache{
		entries:    make(map[string]*list.Element, capacity),
		order:      list.New(),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key, expiring after ttl. A ttl <= 0 means
// "do not cache": the value is not stored and any existing entry under the
// key is invalidated, so a stale value can never outlive the writer's
// intent.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		c.removeLocked(key)
		return
	}

	expiresAt := c.now().Add(ttl)

	if element, ok := c.entries[key]; ok {
		ent := element.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(element)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[key] = c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
}

// Get returns the value stored under key. A missing or expired entry is a
// miss; expired entries are removed on the spot. A hit refreshes the
// entry's recency.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	ent := element.Value.(*entry)
	if !c.now().Before(ent.expiresAt) {
		c.order.Remove(element)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(element)
	c.hits++
	return ent.value, true
}

// Delete removes the entry under key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Len returns the number of stored entries, including expired ones that
// have not been collected yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup removes every expired entry and returns the number removed. Lazy
// expiry on Get keeps reads correct without it; Cleanup exists to bound
// memory for keys that are written but never read again. Call it
// periodically from the host application.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, element := range c.entries {
		if !now.Before(element.Value.(*entry).expiresAt) {
			c.order.Remove(element)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns hit/miss counters accumulated since construction.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// removeLocked deletes key from both the map and the recency list.
func (c *Cache) removeLocked(key string) {
	if element, ok := c.entries[key]; ok {
		c.order.Remove(element)
		delete(c.entries, key)
	}
}

// evictOldestLocked drops the least recently used entry.
func (c *Cache) evictOldestLocked() {
	element := c.order.Back()
	if element == nil {
		return
	}
	c.order.Remove(element)
	delete(c.entries, element.Value.(*entry).key)
}
