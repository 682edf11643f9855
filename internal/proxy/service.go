// Package proxy implements the streaming-media proxy core: segment caching,
// byte-range negotiation, tail prefetching, and HLS playlist rewriting.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/metrics"
	"github.com/hlsgate/hlsgate/internal/observability"
	"github.com/hlsgate/hlsgate/pkg/httpclient"
)

// Client names in the HTTP client registry.
const (
	upstreamClientName  = "upstream"
	streamingClientName = "upstream-streaming"
)

// Service owns the proxy state: both caches, the range negotiator, the
// upstream HTTP clients, and the background sweep jobs.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	segments *SegmentCache
	tails    *TailCache
	ranges   *RangeNegotiator

	// client serves bounded requests (playlists, probes, prefetches) with a
	// deadline; streamClient serves segment streaming without one.
	client       *httpclient.Client
	streamClient *httpclient.Client
	registry     *httpclient.Registry

	cron *cron.Cron

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New creates a proxy service from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "proxy")

	// Upstream error statuses are forwarded to the client, not failures of
	// the proxy itself, so the breaker only trips on transport errors.
	acceptAll := httpclient.MustParseStatusCodes("100-599")

	clientCfg := httpclient.Config{
		Timeout:               cfg.Upstream.Timeout,
		RetryAttempts:         0,
		CircuitThreshold:      cfg.Upstream.CircuitThreshold,
		CircuitTimeout:        cfg.Upstream.CircuitTimeout,
		UserAgent:             cfg.Upstream.UserAgent,
		Logger:                logger,
		EnableDecompression:   true,
		AcceptableStatusCodes: acceptAll,
	}

	streamCfg := clientCfg
	streamCfg.Timeout = 0
	// Decompressing a media stream would corrupt byte-range arithmetic.
	streamCfg.EnableDecompression = false

	registry := httpclient.NewRegistry()
	client := httpclient.New(clientCfg)
	streamClient := httpclient.New(streamCfg)
	registry.Register(upstreamClientName, client)
	registry.Register(streamingClientName, streamClient)

	return &Service{
		cfg:          cfg,
		logger:       logger,
		segments:     NewSegmentCache(cfg.Cache),
		tails:        NewTailCache(cfg.Tail),
		ranges:       NewRangeNegotiator(cfg.Ranges),
		client:       client,
		streamClient: streamClient,
		registry:     registry,
		cron:         cron.New(),
	}
}

// Segments returns the segment cache.
func (s *Service) Segments() *SegmentCache { return s.segments }

// Tails returns the tail prefetch cache.
func (s *Service) Tails() *TailCache { return s.tails }

// Ranges returns the range negotiator.
func (s *Service) Ranges() *RangeNegotiator { return s.ranges }

// Registry returns the upstream HTTP client registry for health reporting.
func (s *Service) Registry() *httpclient.Registry { return s.registry }

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Start schedules the background cache sweeps.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("proxy service already started")
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Cache.SweepInterval), func() {
		removed := s.segments.Sweep()
		s.logger.Debug("segment cache sweep",
			slog.Int("removed", removed),
			slog.Int("remaining", s.segments.Len()))
	})
	if err != nil {
		return fmt.Errorf("scheduling segment cache sweep: %w", err)
	}

	_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Tail.SweepInterval), func() {
		removed := s.tails.Sweep()
		s.logger.Debug("tail cache sweep",
			slog.Int("removed", removed),
			slog.Int("remaining", s.tails.Len()))
	})
	if err != nil {
		return fmt.Errorf("scheduling tail cache sweep: %w", err)
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("proxy service started",
		slog.Duration("cache_sweep", s.cfg.Cache.SweepInterval),
		slog.Duration("tail_sweep", s.cfg.Tail.SweepInterval),
		slog.Bool("cache_disabled", s.cfg.Cache.Disabled))
	return nil
}

// Stop stops the sweeps and waits for in-flight prefetches to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("proxy service stopped")
}

// Fetch performs an upstream GET for streaming: forwarded headers applied
// over the default User-Agent, optional Range, no deadline.
func (s *Service) Fetch(ctx context.Context, target string, headers map[string]string, rangeVal string) (*http.Response, error) {
	return s.do(ctx, s.streamClient, http.MethodGet, target, headers, rangeVal)
}

// FetchBuffered performs a deadline-bounded upstream GET for playlists,
// probes, and prefetches.
func (s *Service) FetchBuffered(ctx context.Context, target string, headers map[string]string, rangeVal string) (*http.Response, error) {
	return s.do(ctx, s.client, http.MethodGet, target, headers, rangeVal)
}

func (s *Service) do(ctx context.Context, client *httpclient.Client, method, target string, headers map[string]string, rangeVal string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	req.Header.Set("User-Agent", s.cfg.Upstream.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rangeVal != "" {
		req.Header.Set("Range", rangeVal)
	} else {
		req.Header.Del("Range")
	}

	return client.Do(req)
}

// ProbeSize determines the total size of target. It tries a HEAD request
// first, then falls back to a bytes=0-0 range probe and parses the total out
// of Content-Range. Returns size 0 when neither works; probe failures are
// never fatal.
func (s *Service) ProbeSize(ctx context.Context, target string, headers map[string]string) (total int64, acceptRanges string) {
	if resp, err := s.do(ctx, s.client, http.MethodHead, target, headers, ""); err == nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			acceptRanges = resp.Header.Get("Accept-Ranges")
			if resp.ContentLength > 0 {
				resp.Body.Close()
				return resp.ContentLength, acceptRanges
			}
		}
		resp.Body.Close()
	} else {
		s.logger.Debug("HEAD probe failed", slog.String("url", target), slog.String("error", err.Error()))
	}

	resp, err := s.do(ctx, s.client, http.MethodGet, target, headers, "bytes=0-0")
	if err != nil {
		s.logger.Debug("range probe failed", slog.String("url", target), slog.String("error", err.Error()))
		return 0, acceptRanges
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		s.logger.Debug("range probe not partial", slog.String("url", target), slog.Int("status", resp.StatusCode))
		return 0, acceptRanges
	}

	// Drain the single probe byte so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	cr, ok := ParseContentRange(resp.Header.Get("Content-Range"))
	if !ok || cr.Total <= 0 {
		return 0, acceptRanges
	}
	return cr.Total, acceptRanges
}

// MaybeTailPrefetch asynchronously fetches the trailing window of target when
// the total size is known and no entry exists yet. Failures are logged at
// debug and swallowed.
func (s *Service) MaybeTailPrefetch(target string, headers map[string]string, total, window int64) {
	if total <= 0 || s.tails.Has(target) {
		return
	}

	if window > total {
		window = total
	}
	start := total - window
	if start < 0 {
		start = 0
	}
	tailRange := fmt.Sprintf("bytes=%d-", start)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Upstream.Timeout)
		defer cancel()

		resp, err := s.FetchBuffered(ctx, target, headers, tailRange)
		if err != nil {
			metrics.TailPrefetches.WithLabelValues("error").Inc()
			s.logger.Debug("tail prefetch failed", slog.String("url", target), slog.String("error", err.Error()))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusPartialContent {
			metrics.TailPrefetches.WithLabelValues("rejected").Inc()
			s.logger.Debug("tail prefetch not partial", slog.String("url", target), slog.Int("status", resp.StatusCode))
			return
		}

		cr, ok := ParseContentRange(resp.Header.Get("Content-Range"))
		if !ok {
			metrics.TailPrefetches.WithLabelValues("rejected").Inc()
			return
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			metrics.TailPrefetches.WithLabelValues("error").Inc()
			s.logger.Debug("tail prefetch read failed", slog.String("url", target), slog.String("error", err.Error()))
			return
		}

		s.tails.Put(target, data, cr)
		metrics.TailPrefetches.WithLabelValues("stored").Inc()
		s.logger.Debug("tail prefetch stored",
			slog.String("url", target),
			slog.Int64("start", cr.Start),
			slog.Int64("end", cr.End),
			slog.Int("bytes", len(data)))
	}()
}

// PrefetchSegment fetches url into the segment cache unless the cache is
// disabled, full, or already holds a fresh entry.
func (s *Service) PrefetchSegment(ctx context.Context, url string, headers map[string]string) {
	if s.segments.Disabled() || s.segments.Full() || s.segments.Has(url) {
		return
	}

	resp, err := s.FetchBuffered(ctx, url, headers, "")
	if err != nil {
		metrics.SegmentPrefetches.WithLabelValues("error").Inc()
		s.logger.Debug("segment prefetch failed", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.SegmentPrefetches.WithLabelValues("rejected").Inc()
		s.logger.Debug("segment prefetch rejected", slog.String("url", url), slog.Int("status", resp.StatusCode))
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.SegmentPrefetches.WithLabelValues("error").Inc()
		s.logger.Debug("segment prefetch read failed", slog.String("url", url), slog.String("error", err.Error()))
		return
	}

	s.segments.Put(url, data, resp.Header)
	metrics.SegmentPrefetches.WithLabelValues("stored").Inc()
}

// PrefetchSegments prefetches the given URLs in the background with bounded
// concurrency. Best effort: individual failures are swallowed.
func (s *Service) PrefetchSegments(urls []string, headers map[string]string) {
	if len(urls) == 0 || s.segments.Disabled() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Upstream.Timeout)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Prefetch.Concurrency)
		for _, u := range urls {
			g.Go(func() error {
				s.PrefetchSegment(ctx, u, headers)
				return nil
			})
		}
		g.Wait()
	}()
}

// Stats is a point-in-time snapshot of the proxy state.
type Stats struct {
	SegmentCacheEntries  int  `json:"segment_cache_entries"`
	SegmentCacheDisabled bool `json:"segment_cache_disabled"`
	TailCacheEntries     int  `json:"tail_cache_entries"`
	ProgressiveURLs      int  `json:"progressive_urls"`
	ClampedURLs          int  `json:"clamped_urls"`
}

// Stats returns a snapshot of the proxy state.
func (s *Service) Stats() Stats {
	return Stats{
		SegmentCacheEntries:  s.segments.Len(),
		SegmentCacheDisabled: s.segments.Disabled(),
		TailCacheEntries:     s.tails.Len(),
		ProgressiveURLs:      s.ranges.ProgressiveSize(),
		ClampedURLs:          s.ranges.ClampSize(),
	}
}

// Flush drops both caches and all negotiation state. Returns the number of
// dropped cache entries.
func (s *Service) Flush() int {
	n := s.segments.Flush() + s.tails.Flush()
	s.ranges.Reset()
	s.logger.Info("proxy caches flushed", slog.Int("dropped", n))
	return n
}
