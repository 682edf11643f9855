package proxy

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsgate/hlsgate/internal/config"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		MaxEntries:    3,
		TTL:           time.Hour,
		SweepInterval: time.Minute,
	}
}

func TestSegmentCachePutGet(t *testing.T) {
	cache := NewSegmentCache(testCacheConfig())

	headers := http.Header{"Content-Type": []string{"video/mp2t"}}
	cache.Put("http://u/seg1.ts", []byte("data"), headers)

	entry, ok := cache.Get("http://u/seg1.ts")
	require.True(t, ok)
	assert.Equal(t, []byte("data"), entry.Data)
	assert.Equal(t, "video/mp2t", entry.Headers.Get("Content-Type"))

	_, ok = cache.Get("http://u/other.ts")
	assert.False(t, ok)
}

func TestSegmentCacheLazyExpiry(t *testing.T) {
	cache := NewSegmentCache(testCacheConfig())

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Put("http://u/seg.ts", []byte("x"), nil)

	// Entry stays fresh inside the TTL.
	now = now.Add(59 * time.Minute)
	_, ok := cache.Get("http://u/seg.ts")
	require.True(t, ok)

	// Past the TTL the entry is gone without any sweep having run.
	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("http://u/seg.ts")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestSegmentCacheDisabled(t *testing.T) {
	cfg := testCacheConfig()
	cfg.Disabled = true
	cache := NewSegmentCache(cfg)

	cache.Put("http://u/seg.ts", []byte("x"), nil)
	_, ok := cache.Get("http://u/seg.ts")
	assert.False(t, ok)
	assert.True(t, cache.Disabled())
	assert.False(t, cache.Has("http://u/seg.ts"))
	assert.Equal(t, 0, cache.Len())
}

func TestSegmentCacheSweepExpired(t *testing.T) {
	cache := NewSegmentCache(testCacheConfig())

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Put("http://u/old.ts", []byte("x"), nil)

	now = now.Add(30 * time.Minute)
	cache.Put("http://u/new.ts", []byte("y"), nil)

	now = now.Add(45 * time.Minute)
	removed := cache.Sweep()
	assert.Equal(t, 1, removed)
	assert.False(t, cache.Has("http://u/old.ts"))
	assert.True(t, cache.Has("http://u/new.ts"))
}

func TestSegmentCacheSweepSizeBound(t *testing.T) {
	cache := NewSegmentCache(testCacheConfig())

	now := time.Now()
	cache.now = func() time.Time { return now }

	// Five entries stored a minute apart; bound is three.
	urls := []string{"a", "b", "c", "d", "e"}
	for _, u := range urls {
		cache.Put(u, []byte(u), nil)
		now = now.Add(time.Minute)
	}

	removed := cache.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 3, cache.Len())

	// The most recently stored entries survive.
	assert.False(t, cache.Has("a"))
	assert.False(t, cache.Has("b"))
	assert.True(t, cache.Has("c"))
	assert.True(t, cache.Has("d"))
	assert.True(t, cache.Has("e"))
}

func TestSegmentCacheFullAndFlush(t *testing.T) {
	cache := NewSegmentCache(testCacheConfig())

	assert.False(t, cache.Full())
	for _, u := range []string{"a", "b", "c"} {
		cache.Put(u, nil, nil)
	}
	assert.True(t, cache.Full())

	assert.Equal(t, 3, cache.Flush())
	assert.Equal(t, 0, cache.Len())
	assert.False(t, cache.Full())
}

func TestSegmentCachePutReplaces(t *testing.T) {
	cache := NewSegmentCache(testCacheConfig())

	cache.Put("u", []byte("old"), http.Header{"X-A": []string{"1"}})
	cache.Put("u", []byte("new"), nil)

	entry, ok := cache.Get("u")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), entry.Data)
	assert.Empty(t, entry.Headers.Get("X-A"))
	assert.Equal(t, 1, cache.Len())
}
