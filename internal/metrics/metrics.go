// Package metrics defines the Prometheus collectors exported by hlsgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SegmentCacheHits counts segment cache lookups that returned an entry.
	SegmentCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgate_segment_cache_hits_total",
		Help: "Number of segment cache hits.",
	})

	// SegmentCacheMisses counts segment cache lookups that found nothing.
	SegmentCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgate_segment_cache_misses_total",
		Help: "Number of segment cache misses.",
	})

	// SegmentCacheEntries tracks the current number of cached segments.
	SegmentCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hlsgate_segment_cache_entries",
		Help: "Current number of entries in the segment cache.",
	})

	// SegmentCacheEvictions counts entries removed by TTL expiry or the
	// size-bound sweep.
	SegmentCacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsgate_segment_cache_evictions_total",
		Help: "Number of segment cache evictions by reason.",
	}, []string{"reason"})

	// TailCacheHits counts open-suffix requests served from the tail cache.
	TailCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgate_tail_cache_hits_total",
		Help: "Number of range requests served from the tail prefetch cache.",
	})

	// TailPrefetches counts tail prefetch attempts by outcome.
	TailPrefetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsgate_tail_prefetches_total",
		Help: "Number of tail prefetch attempts by outcome.",
	}, []string{"outcome"})

	// SegmentPrefetches counts playlist-driven segment prefetches by outcome.
	SegmentPrefetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsgate_segment_prefetches_total",
		Help: "Number of playlist segment prefetch attempts by outcome.",
	}, []string{"outcome"})

	// UpstreamRequests counts upstream fetches by endpoint and status class.
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsgate_upstream_requests_total",
		Help: "Number of upstream requests by endpoint and status class.",
	}, []string{"endpoint", "status"})

	// PlaylistsRewritten counts playlists fetched and rewritten.
	PlaylistsRewritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hlsgate_playlists_rewritten_total",
		Help: "Number of playlists rewritten.",
	})

	// RangeNegotiations counts range negotiation outcomes by strategy.
	RangeNegotiations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsgate_range_negotiations_total",
		Help: "Number of range negotiations by strategy.",
	}, []string{"strategy"})
)

// Register registers all collectors with the given registerer.
// Pass prometheus.DefaultRegisterer in production code.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SegmentCacheHits,
		SegmentCacheMisses,
		SegmentCacheEntries,
		SegmentCacheEvictions,
		TailCacheHits,
		TailPrefetches,
		SegmentPrefetches,
		UpstreamRequests,
		PlaylistsRewritten,
		RangeNegotiations,
	)
}
