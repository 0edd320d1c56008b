package organization

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local ViewCache with a fixed time to live.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	view      View
	expiresAt time.Time
}

var _ ViewCache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache whose entries expire after ttl. A ttl of
// zero or less keeps entries until they are invalidated.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, id string) (*View, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok && c.expired(e) {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return nil, false
	}
	v := e.view
	return &v, true
}

func (c *MemoryCache) Set(ctx context.Context, view *View) {
	if view == nil {
		return
	}
	c.mu.Lock()
	c.entries[view.ID] = cacheEntry{view: *view, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(ctx context.Context, id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *MemoryCache) expired(e cacheEntry) bool {
	return c.ttl > 0 && !c.now().Before(e.expiresAt)
}
