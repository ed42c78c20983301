package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"vidgate/internal/core"
)

// MemoryCache is the in-process response cache backend. Expired entries are
// dropped lazily on lookup; when the entry count exceeds the capacity bound,
// an eager eviction pass prefers expired entries, then the least recently
// accessed, until comfortably under the ceiling.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	ttl        time.Duration
	hits       int64
	misses     int64
	now        func() time.Time
}

// MemoryConfig holds the in-memory backend's bounds. Zero values take the
// package defaults.
type MemoryConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// NewMemoryCache creates an in-memory response cache.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &MemoryCache{
		entries:    make(map[string]*Entry),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		now:        time.Now,
	}
}

// Get looks the request up by fingerprint.
func (c *MemoryCache) Get(_ context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	key := Fingerprint(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, nil
	}

	now := c.now()
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, nil
	}

	entry.UsageCount++
	entry.LastAccessed = now
	c.hits++
	return entry.Result(), nil
}

// Set stores a completed result under the request's fingerprint.
func (c *MemoryCache) Set(_ context.Context, req *core.GenerationRequest, result *core.GenerationResult) error {
	if !cacheable(result) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := newEntry(req, result, c.ttl, c.now())
	c.entries[entry.PromptHash] = entry

	if len(c.entries) > c.maxEntries {
		c.evict()
	}
	return nil
}

// evict removes entries until the cache sits at 90% of capacity: expired
// entries go first, then least-recently-accessed. Caller holds c.mu.
func (c *MemoryCache) evict() {
	target := c.maxEntries * 9 / 10
	now := c.now()

	for key, entry := range c.entries {
		if len(c.entries) <= target {
			return
		}
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= target {
		return
	}

	remaining := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		remaining = append(remaining, entry)
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].LastAccessed.Before(remaining[j].LastAccessed)
	})
	for _, entry := range remaining {
		if len(c.entries) <= target {
			return
		}
		delete(c.entries, entry.PromptHash)
	}
}

// Clear removes all entries, or only one provider's.
func (c *MemoryCache) Clear(_ context.Context, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if provider == "" {
		c.entries = make(map[string]*Entry)
		return nil
	}
	for key, entry := range c.entries {
		if entry.Provider == provider {
			delete(c.entries, key)
		}
	}
	return nil
}

// Stats reports the cache's current contents and lookup history.
func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Entries:     len(c.entries),
		PerProvider: make(map[string]int),
		Hits:        c.hits,
		Misses:      c.misses,
	}
	for _, entry := range c.entries {
		stats.TotalSizeBytes += entry.FileSizeBytes
		stats.PerProvider[entry.Provider]++
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats, nil
}

// Close is a no-op for the in-memory backend.
func (c *MemoryCache) Close() error { return nil }

// SetClock replaces the cache's time source. Test hook.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
