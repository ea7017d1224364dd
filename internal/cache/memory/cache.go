// Package memory provides an in-process TTL cache.
// It is local to one process; entries are not shared between hosts.
package memory

import (
	"strings"
	"sync"
	"time"
)

// Cache maps string keys to values of type V with a per-entry TTL.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]cacheItem[V]
	now   func() time.Time

	stopCh  chan struct{}
	stopped bool
}

// cacheItem represents a single cached item.
type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
	noExpiry  bool
}

func (i cacheItem[V]) isExpired(now time.Time) bool {
	if i.noExpiry {
		return false
	}
	return !now.Before(i.expiresAt)
}

// NewCache creates a cache. A positive cleanupInterval starts a goroutine
// that drops expired entries until Stop is called; otherwise expired
// entries are only skipped on read.
func NewCache[V any](cleanupInterval time.Duration) *Cache[V] {
	return newCache[V](cleanupInterval, time.Now)
}

// NewCacheWithClock is NewCache with a custom clock and no cleanup loop.
func NewCacheWithClock[V any](now func() time.Time) *Cache[V] {
	return newCache[V](0, now)
}

func newCache[V any](cleanupInterval time.Duration, now func() time.Time) *Cache[V] {
	c := &Cache[V]{
		items:  make(map[string]cacheItem[V]),
		now:    now,
		stopCh: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if item.isExpired(now) {
			delete(c.items, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *Cache[V]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		close(c.stopCh)
		c.stopped = true
	}
}

// Get returns the live value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || item.isExpired(c.now()) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set stores value under key. A ttl of zero or less never expires.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := cacheItem[V]{value: value}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	} else {
		item.noExpiry = true
	}
	c.items[key] = item
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache[V]) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}

// Len returns the number of entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}
