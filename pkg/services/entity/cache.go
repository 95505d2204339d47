package entity

import (
	"sort"
	"sync"
	"time"

	"scan-comply/pkg/models"
)

const (
	DefaultCacheTTL = 24 * time.Hour

	cacheMaxEntries = 1000
	cacheLowWater   = 800
	cacheEvictBatch = 200
)

// Cache is an in-memory verification cache with TTL expiry. Entries are
// independent, so a single lock is enough.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.CachedVerification
	ttl     time.Duration
	now     func() time.Time
	onEvict func(n int)
}

// NewCache creates a cache whose entries live for ttl, measured by now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]models.CachedVerification),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the entry for uen unless it is missing or expired.
func (c *Cache) Get(uen string) (models.CachedVerification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[uen]
	if !ok || entry.Expired(c.now()) {
		return models.CachedVerification{}, false
	}
	return entry, true
}

// Set stores result and returns the cached entry. When the cache grows past
// its bound, expired entries are swept and, if it is still too large, the
// oldest entries are evicted.
func (c *Cache) Set(result models.EntityVerification) models.CachedVerification {
	now := c.now()
	entry := models.CachedVerification{
		EntityVerification: result,
		CachedAt:           now,
		ExpiresAt:          now.Add(c.ttl),
	}
	c.Put(entry)
	return entry
}

// Put stores an entry as-is, keeping its timestamps.
func (c *Cache) Put(entry models.CachedVerification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.UEN] = entry

	if len(c.entries) <= cacheMaxEntries {
		return
	}
	removed := c.sweepLocked()
	if len(c.entries) > cacheLowWater {
		removed += c.evictOldestLocked(cacheEvictBatch)
	}
	if c.onEvict != nil {
		c.onEvict(removed)
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// EvictOldest removes the n entries with the earliest CachedAt.
func (c *Cache) EvictOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictOldestLocked(n)
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked() int {
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) evictOldestLocked(n int) int {
	if n <= 0 {
		return 0
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]].CachedAt, c.entries[keys[j]].CachedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	if n > len(keys) {
		n = len(keys)
	}
	for _, k := range keys[:n] {
		delete(c.entries, k)
	}
	return n
}
