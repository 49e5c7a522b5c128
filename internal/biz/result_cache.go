package biz

import (
	"fmt"
	"sync"
	"time"

	"InsightRelay/internal/conf"
	"InsightRelay/pkg/metrics"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Cache defaults
const (
	// DefaultCacheTTL is how long a generation result stays reusable.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize bounds the number of cached results.
	DefaultCacheSize = 1024
)

// Cache lookup results reported to metrics.
const (
	cacheHit     = "hit"
	cacheMiss    = "miss"
	cacheExpired = "expired"
)

// CacheEntry is one cached result.
type CacheEntry struct {
	Fingerprint string
	Result      GenerationResult
	ExpiresAt   time.Time
}

// CacheStats summarizes cache efficiency since start.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Expired uint64
	Entries int
}

// ResultCache is a bounded, TTL-based store of generation results keyed by
// request fingerprint. Expired entries are evicted lazily on lookup and by Sweep.
type ResultCache struct {
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries *simplelru.LRU[string, CacheEntry]
	stats   CacheStats
}

// NewResultCache creates a cache holding at most size entries.
func NewResultCache(size int, ttl time.Duration, m *metrics.Metrics) (*ResultCache, error) {
	entries, err := simplelru.NewLRU[string, CacheEntry](size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &ResultCache{
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
		entries: entries,
	}, nil
}

// NewResultCacheFromConfig builds a ResultCache from configuration.
func NewResultCacheFromConfig(c *conf.Resilience, m *metrics.Metrics) (*ResultCache, error) {
	size, ttl := DefaultCacheSize, DefaultCacheTTL
	if c != nil && c.Cache != nil {
		if c.Cache.Size > 0 {
			size = c.Cache.Size
		}
		ttl = c.Cache.TTL
	}
	return NewResultCache(size, ttl, m)
}

// TTL returns the configured default TTL.
func (c *ResultCache) TTL() time.Duration { return c.ttl }

// Get returns the cached result for fingerprint. An entry past its expiry
// is removed and reported as a miss.
func (c *ResultCache) Get(fingerprint string) (GenerationResult, bool) {
	c.mu.Lock()
	entry, ok := c.entries.Get(fingerprint)
	result := cacheMiss
	switch {
	case !ok:
		c.stats.Misses++
	case !c.now().Before(entry.ExpiresAt):
		c.entries.Remove(fingerprint)
		c.stats.Expired++
		c.stats.Misses++
		result = cacheExpired
		ok = false
	default:
		c.stats.Hits++
		result = cacheHit
	}
	n := c.entries.Len()
	c.mu.Unlock()

	c.metrics.RecordCache(result)
	c.metrics.SetCacheEntries(n)
	if !ok {
		return GenerationResult{}, false
	}
	return entry.Result, true
}

// Put stores result under fingerprint for ttl, overwriting any previous entry.
// A non-positive ttl stores nothing.
func (c *ResultCache) Put(fingerprint string, result GenerationResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries.Add(fingerprint, CacheEntry{
		Fingerprint: fingerprint,
		Result:      result,
		ExpiresAt:   c.now().Add(ttl),
	})
	n := c.entries.Len()
	c.mu.Unlock()

	c.metrics.SetCacheEntries(n)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *ResultCache) Sweep() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if ok && !now.Before(entry.ExpiresAt) {
			c.entries.Remove(key)
			removed++
		}
	}
	c.stats.Expired += uint64(removed)
	n := c.entries.Len()
	c.mu.Unlock()

	c.metrics.SetCacheEntries(n)
	return removed
}

// Purge removes every entry.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
	c.metrics.SetCacheEntries(0)
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns a copy of the cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.entries.Len()
	return s
}
