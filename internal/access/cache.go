package access

import (
	"sync"
	"time"
)

// grantCache is a short-TTL in-memory cache of visible-document sets. It
// saves one grant query per request for users issuing bursts of queries.
//
// Key: "user_id:role". Value: set of visible document ids plus expiry.
type grantCache struct {
	mu      sync.RWMutex
	entries map[string]cachedEntry
	ttl     time.Duration
	done    chan struct{}
}

type cachedEntry struct {
	visible   map[string]bool
	expiresAt time.Time
}

// newGrantCache creates a cache with the given TTL.
// Call Close to stop the background eviction goroutine.
func newGrantCache(ttl time.Duration) *grantCache {
	c := &grantCache{
		entries: make(map[string]cachedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the cached set and true if a valid entry exists.
func (c *grantCache) Get(key string) (map[string]bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.visible, true
}

// Set stores a visible set with the configured TTL.
func (c *grantCache) Set(key string, visible map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedEntry{
		visible:   visible,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Close stops the background eviction goroutine.
func (c *grantCache) Close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *grantCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *grantCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
