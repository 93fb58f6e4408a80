package snapshot

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched snapshot is served from memory.
const DefaultCacheTTL = 500 * time.Millisecond

type cacheEntry struct {
	url       string
	snapshot  Snapshot
	expiresAt time.Time
}

// Cache remembers the last snapshot of a single source for a short time.
// A TTL of zero disables it.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	entry *cacheEntry
}

// NewCache returns a single-slot cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// Lookup returns a copy of the cached snapshot for url if it has not expired.
func (c *Cache) Lookup(url string) (Snapshot, bool) {
	if c.ttl == 0 {
		return Snapshot{}, false
	}
	c.mu.Lock()
	e := c.entry
	c.mu.Unlock()
	if e == nil || e.url != url || !c.now().Before(e.expiresAt) {
		return Snapshot{}, false
	}
	return e.snapshot.clone(), true
}

// Store replaces the cached entry.
func (c *Cache) Store(url string, s Snapshot) {
	if c.ttl == 0 {
		return
	}
	e := &cacheEntry{url: url, snapshot: s.clone(), expiresAt: c.now().Add(c.ttl)}
	c.mu.Lock()
	c.entry = e
	c.mu.Unlock()
}
