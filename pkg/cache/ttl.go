// Package cache provides a small thread-safe TTL cache used for event
// deduplication in the router. Entries expire after a fixed window and the
// cache is bounded; the oldest entries are evicted first when full.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe bounded cache with per-entry expiry.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[string]*list.Element
	order   *list.List // oldest entries at the front

	hits   int64
	misses int64
}

// NewTTL creates a TTL cache. maxSize <= 0 means unbounded.
func NewTTL[V any](ttl time.Duration, maxSize int) *TTL[V] {
	return &TTL[V]{
		ttl:     ttl,
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a value by key, checking for expiration.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores a value with the cache's TTL, evicting expired and oldest
// entries as needed.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToBack(el)
		return
	}

	c.evictExpiredLocked()
	if c.maxSize > 0 {
		for len(c.items) >= c.maxSize {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.removeLocked(oldest)
		}
	}

	el := c.order.PushBack(&entry[V]{key: key, value: value, expiresAt: time.Now().Add(c.ttl)})
	c.items[key] = el
}

// SetIfAbsent stores a value only when the key is not present (or expired).
// Returns true when the value was stored. This is the dedup primitive: the
// first caller for a key wins.
func (c *TTL[V]) SetIfAbsent(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		if !time.Now().After(e.expiresAt) {
			c.hits++
			return false
		}
		c.removeLocked(el)
	}

	c.evictExpiredLocked()
	if c.maxSize > 0 {
		for len(c.items) >= c.maxSize {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.removeLocked(oldest)
		}
	}

	el := c.order.PushBack(&entry[V]{key: key, value: value, expiresAt: time.Now().Add(c.ttl)})
	c.items[key] = el
	return true
}

// Len returns the number of live entries, counting expired-but-unevicted
// entries until the next write.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Hits returns the number of cache hits.
func (c *TTL[V]) Hits() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

func (c *TTL[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.order.Remove(el)
}

// evictExpiredLocked removes expired entries from the front of the order
// list. Entries are ordered by insertion time so scanning stops at the
// first live entry.
func (c *TTL[V]) evictExpiredLocked() {
	now := time.Now()
	for {
		el := c.order.Front()
		if el == nil {
			return
		}
		if !now.After(el.Value.(*entry[V]).expiresAt) {
			return
		}
		c.removeLocked(el)
	}
}
