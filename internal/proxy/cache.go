package proxy

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/metrics"
)

// SegmentEntry is a cached segment body with the upstream response headers
// observed when it was fetched.
type SegmentEntry struct {
	Data     []byte
	Headers  http.Header
	StoredAt time.Time
}

// SegmentCache is a bounded in-memory cache of whole segment bodies keyed by
// upstream URL. Entries expire after a TTL; a periodic sweep additionally
// evicts the oldest entries once the size bound is exceeded. When disabled,
// lookups always miss and writes are dropped.
type SegmentCache struct {
	mu         sync.RWMutex
	entries    map[string]*SegmentEntry
	maxEntries int
	ttl        time.Duration
	disabled   bool

	now func() time.Time
}

// NewSegmentCache creates a segment cache from configuration.
func NewSegmentCache(cfg config.CacheConfig) *SegmentCache {
	return &SegmentCache{
		entries:    make(map[string]*SegmentEntry),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		disabled:   cfg.Disabled,
		now:        time.Now,
	}
}

// Get returns the entry for url if present and fresh. An expired entry is
// deleted on access so freshness never depends on sweep timing.
func (c *SegmentCache) Get(url string) (*SegmentEntry, bool) {
	if c.disabled {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok {
		metrics.SegmentCacheMisses.Inc()
		return nil, false
	}

	if c.now().Sub(entry.StoredAt) > c.ttl {
		c.mu.Lock()
		// Re-check under the write lock in case of a concurrent replacement.
		if cur, ok := c.entries[url]; ok && c.now().Sub(cur.StoredAt) > c.ttl {
			delete(c.entries, url)
			metrics.SegmentCacheEvictions.WithLabelValues("expired").Inc()
			metrics.SegmentCacheEntries.Set(float64(len(c.entries)))
		}
		c.mu.Unlock()
		metrics.SegmentCacheMisses.Inc()
		return nil, false
	}

	metrics.SegmentCacheHits.Inc()
	return entry, true
}

// Has reports whether a fresh entry exists for url without touching metrics.
func (c *SegmentCache) Has(url string) bool {
	if c.disabled {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[url]
	return ok && c.now().Sub(entry.StoredAt) <= c.ttl
}

// Put stores a whole-entry replacement for url. A no-op when disabled.
func (c *SegmentCache) Put(url string, data []byte, headers http.Header) {
	if c.disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = &SegmentEntry{
		Data:     data,
		Headers:  headers,
		StoredAt: c.now(),
	}
	metrics.SegmentCacheEntries.Set(float64(len(c.entries)))
}

// Len returns the current number of entries, expired or not.
func (c *SegmentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Full reports whether the cache is at or over its size bound.
// Prefetchers consult this before fetching.
func (c *SegmentCache) Full() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) >= c.maxEntries
}

// Disabled reports whether the cache is operating in disabled mode.
func (c *SegmentCache) Disabled() bool {
	return c.disabled
}

// Sweep removes expired entries, then evicts oldest-by-StoredAt entries until
// the size bound holds. Returns the number of removed entries.
func (c *SegmentCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for url, entry := range c.entries {
		if now.Sub(entry.StoredAt) > c.ttl {
			delete(c.entries, url)
			metrics.SegmentCacheEvictions.WithLabelValues("expired").Inc()
			removed++
		}
	}

	if len(c.entries) > c.maxEntries {
		type aged struct {
			url      string
			storedAt time.Time
		}
		all := make([]aged, 0, len(c.entries))
		for url, entry := range c.entries {
			all = append(all, aged{url: url, storedAt: entry.StoredAt})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

		for _, a := range all[:len(c.entries)-c.maxEntries] {
			delete(c.entries, a.url)
			metrics.SegmentCacheEvictions.WithLabelValues("size").Inc()
			removed++
		}
	}

	metrics.SegmentCacheEntries.Set(float64(len(c.entries)))
	return removed
}

// Flush drops all entries.
func (c *SegmentCache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*SegmentEntry)
	metrics.SegmentCacheEntries.Set(0)
	return n
}
