package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/metrics"
	"github.com/hlsgate/hlsgate/internal/proxy"
)

// segmentParams are the per-request tuning knobs of the segment endpoint.
// Query flags override the configured defaults; kilobyte overrides are
// clamped to their configured bounds.
type segmentParams struct {
	debug           bool
	noSynth         bool
	force200        bool
	clampOpen       bool
	progressiveOpen bool
	tailPrefetch    bool
	openChunk       int64
	initChunk       int64
	tailWindow      int64
}

func (h *ProxyHandler) parseSegmentParams(q url.Values) segmentParams {
	p := segmentParams{
		debug:           q.Get("debug") == "1",
		noSynth:         q.Get("noSynth") == "1",
		force200:        q.Get("force200") == "1",
		clampOpen:       h.cfg.Ranges.ClampOpen,
		progressiveOpen: h.cfg.Ranges.ProgressiveOpen,
		tailPrefetch:    h.cfg.Tail.Enabled,
	}
	if v := q.Get("clampOpen"); v != "" {
		p.clampOpen = v != "0"
	}
	if v := q.Get("progressiveOpen"); v != "" {
		p.progressiveOpen = v != "0"
	}
	if v := q.Get("tailPrefetch"); v != "" {
		p.tailPrefetch = v != "0"
	}

	r := h.cfg.Ranges
	p.openChunk = config.ClampKB(parseKB(q.Get("openChunkKB")), r.OpenChunk, r.OpenChunkMin, r.OpenChunkMax).Bytes()
	p.initChunk = config.ClampKB(parseKB(q.Get("initChunkKB")), r.InitChunk, r.InitChunkMin, r.InitChunkMax).Bytes()

	t := h.cfg.Tail
	p.tailWindow = config.ClampKB(parseKB(q.Get("tailPrefetchKB")), t.Window, t.WindowMin, t.WindowMax).Bytes()
	return p
}

// parseKB returns the numeric value of a kilobyte query parameter, or zero
// when absent or malformed.
func parseKB(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ServeSegment handles the segment proxy endpoint. Requests are satisfied, in
// order, from the segment cache, the tail prefetch cache, a synthesized
// bounded initial chunk, or a single streamed upstream fetch with the
// negotiated byte range.
func (h *ProxyHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	headers := proxy.ParseHeadersParam(q.Get("headers"))
	params := h.parseSegmentParams(q)

	rangeHeader := r.Header.Get("Range")
	neg := h.svc.Ranges().Negotiate(target, rangeHeader, proxy.RangeOptions{
		Force200:        params.force200,
		ProgressiveOpen: params.progressiveOpen,
		ClampOpen:       params.clampOpen,
		OpenChunk:       params.openChunk,
	})
	effective := neg.Effective

	if params.debug {
		h.logger.Info("segment request",
			slog.String("url", target),
			slog.String("range", rangeHeader),
			slog.String("effective_range", effective),
			slog.String("strategy", neg.Strategy),
			slog.Bool("force200", params.force200),
			slog.Bool("no_synth", params.noSynth))
	}

	if entry, ok := h.svc.Segments().Get(target); ok {
		h.writeCachedSegment(w, target, entry)
		return
	}

	// An open-suffix request landing inside the prefetched tail window is
	// answered from memory.
	if start, ok := proxy.ParseOpenSuffix(effective); ok {
		if entry, found := h.svc.Tails().Get(target); found {
			if slice, within := entry.Slice(start); within {
				h.writeTailSlice(w, target, entry, start, slice)
				return
			}
		}
	}

	// Without an explicit range the total size drives both tail prefetch and
	// initial-chunk synthesis.
	var total int64
	var acceptRanges string
	if effective == "" {
		total, acceptRanges = h.svc.ProbeSize(r.Context(), target, headers)
	}

	if params.tailPrefetch && total > 0 {
		h.svc.MaybeTailPrefetch(target, headers, total, params.tailWindow)
	}

	// Synthesis is suppressed unless the request explicitly disables
	// progressive open-range handling; some players depend on receiving the
	// unbounded response in the default mode.
	if !params.force200 && effective == "" && total > 0 && !params.noSynth && q.Get("progressiveOpen") == "0" {
		if h.serveSynthesizedChunk(w, r, target, headers, params, total, acceptRanges) {
			return
		}
	}

	if params.force200 {
		effective = ""
	}

	resp, err := h.svc.Fetch(r.Context(), target, headers, effective)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues("segment", strconv.Itoa(resp.StatusCode)).Inc()
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && resp.StatusCode != http.StatusPartialContent {
		writeError(w, resp.StatusCode, fmt.Sprintf("segment fetch failed: %d", resp.StatusCode))
		return
	}

	w.Header().Set("Content-Type", proxy.InferContentType(resp.Header.Get("Content-Type"), target))

	cl := resp.Header.Get("Content-Length")
	crHeader := resp.Header.Get("Content-Range")
	if cl == "" && crHeader != "" {
		if cr, valid := proxy.ParseContentRange(crHeader); valid {
			cl = strconv.FormatInt(cr.Span(), 10)
		}
	}
	if cl != "" {
		w.Header().Set("Content-Length", cl)
	}

	if ar := resp.Header.Get("Accept-Ranges"); ar != "" {
		w.Header().Set("Accept-Ranges", ar)
	} else {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if crHeader != "" && !params.force200 {
		w.Header().Set("Content-Range", crHeader)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	status := http.StatusOK
	if effective != "" && resp.StatusCode == http.StatusPartialContent && !params.force200 {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("segment stream interrupted",
			slog.String("url", target),
			slog.String("error", err.Error()))
	}
}

func (h *ProxyHandler) writeCachedSegment(w http.ResponseWriter, target string, entry *proxy.SegmentEntry) {
	w.Header().Set("Content-Type", proxy.InferContentType(entry.Headers.Get("Content-Type"), target))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Write(entry.Data)
}

func (h *ProxyHandler) writeTailSlice(w http.ResponseWriter, target string, entry *proxy.TailEntry, start int64, slice []byte) {
	metrics.TailCacheHits.Inc()
	w.Header().Set("Content-Type", proxy.InferContentType("", target))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.Itoa(len(slice)))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, entry.End, entry.Total))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusPartialContent)
	w.Write(slice)
}

// serveSynthesizedChunk issues a bounded initial-chunk fetch on the client's
// behalf and forwards the resulting 206 verbatim. Returns false when upstream
// ignored the range, in which case the caller falls through to a plain fetch.
func (h *ProxyHandler) serveSynthesizedChunk(w http.ResponseWriter, r *http.Request, target string, headers map[string]string, params segmentParams, total int64, acceptRanges string) bool {
	chunk := params.initChunk
	if chunk > total {
		chunk = total
	}
	synthRange := fmt.Sprintf("bytes=0-%d", chunk-1)

	resp, err := h.svc.FetchBuffered(r.Context(), target, headers, synthRange)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return true
	}

	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return false
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues("segment", strconv.Itoa(resp.StatusCode)).Inc()
	h.logger.Debug("synthesized initial chunk",
		slog.String("url", target),
		slog.String("range", synthRange),
		slog.Int64("total", total))

	w.Header().Set("Content-Type", proxy.InferContentType(resp.Header.Get("Content-Type"), target))
	if acceptRanges != "" {
		w.Header().Set("Accept-Ranges", acceptRanges)
	} else {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusPartialContent)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("synthesized chunk stream interrupted",
			slog.String("url", target),
			slog.String("error", err.Error()))
	}
	return true
}
