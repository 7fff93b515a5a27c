// ABOUTME: Short-TTL seen-set for message ids, absorbing platform redelivery.
// ABOUTME: Capacity-bounded, with a cleanup goroutine that starts lazily on first use.

package dedupe

import (
	"sync"
	"time"
)

const cleanupInterval = time.Minute

// Cache tracks recently seen message ids so the platform's at-least-once
// redelivery can be dropped silently. Entries expire after the TTL; when
// the cache is at capacity the oldest entry is evicted.
//
// The cleanup goroutine starts on first use, not at construction, and
// Close stops it.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a cache. No goroutine runs until the first Seen call.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
}

// Seen atomically checks whether the id was seen within the TTL and marks
// it if not. Returns true for a duplicate, false for a first sighting.
func (c *Cache) Seen(id string) bool {
	c.startOnce.Do(func() { go c.cleanupLoop() })

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.seen[id]; ok && now.Sub(at) < c.ttl {
		return true
	}
	if len(c.seen) >= c.maxSize {
		c.evictLocked(now)
	}
	c.seen[id] = now
	return false
}

// Len reports the number of tracked ids, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictLocked drops expired entries, falling back to the oldest live
// entry when nothing has expired yet. Must be called with mu held.
func (c *Cache) evictLocked(now time.Time) {
	removed := false
	for id, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, id)
			removed = true
		}
	}
	if removed {
		return
	}

	var oldestID string
	var oldestAt time.Time
	for id, at := range c.seen {
		if oldestID == "" || at.Before(oldestAt) {
			oldestID = id
			oldestAt = at
		}
	}
	if oldestID != "" {
		delete(c.seen, oldestID)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, id)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times, and
// safe even if no goroutine ever started.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.startOnce.Do(func() {})
		close(c.done)
	})
}
