package proxy

import (
	"sync"
	"time"

	"github.com/hlsgate/hlsgate/internal/config"
)

// TailEntry holds the prefetched tail slice of a resource together with the
// byte coordinates parsed from the upstream Content-Range.
type TailEntry struct {
	Data     []byte
	Start    int64
	End      int64
	Total    int64
	StoredAt time.Time
}

// Slice returns the stored bytes from absolute offset start to the end of the
// entry. Returns false when start falls outside [Start, End].
func (e *TailEntry) Slice(start int64) ([]byte, bool) {
	if start < e.Start || start > e.End {
		return nil, false
	}
	return e.Data[start-e.Start:], true
}

// TailCache stores the trailing window of resources so that open-suffix range
// requests (bytes=N-) can be answered from memory. Entries expire after a TTL.
type TailCache struct {
	mu      sync.RWMutex
	entries map[string]*TailEntry
	ttl     time.Duration

	now func() time.Time
}

// NewTailCache creates a tail cache from configuration.
func NewTailCache(cfg config.TailConfig) *TailCache {
	return &TailCache{
		entries: make(map[string]*TailEntry),
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

// Get returns the entry for url if present and fresh.
func (c *TailCache) Get(url string) (*TailEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[url]; ok && c.now().Sub(cur.StoredAt) > c.ttl {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry, true
}

// Has reports whether any entry exists for url, fresh or not. The prefetcher
// uses presence alone to keep at most one prefetch in flight per URL.
func (c *TailCache) Has(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[url]
	return ok
}

// Put stores a tail entry for url.
func (c *TailCache) Put(url string, data []byte, cr ContentRange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = &TailEntry{
		Data:     data,
		Start:    cr.Start,
		End:      cr.End,
		Total:    cr.Total,
		StoredAt: c.now(),
	}
}

// Len returns the current number of entries.
func (c *TailCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns the number removed.
func (c *TailCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for url, entry := range c.entries {
		if now.Sub(entry.StoredAt) > c.ttl {
			delete(c.entries, url)
			removed++
		}
	}
	return removed
}

// Flush drops all entries.
func (c *TailCache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*TailEntry)
	return n
}
