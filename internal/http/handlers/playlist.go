package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hlsgate/hlsgate/internal/metrics"
	"github.com/hlsgate/hlsgate/internal/proxy"
)

// ServePlaylist handles the playlist proxy endpoint: fetch the upstream
// playlist, rewrite every referenced URI through the proxy, and kick off
// best-effort prefetch of the referenced segments.
func (h *ProxyHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	headers := proxy.ParseHeadersParam(r.URL.Query().Get("headers"))

	resp, err := h.svc.FetchBuffered(r.Context(), target, headers, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues("playlist", strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		writeError(w, resp.StatusCode, fmt.Sprintf("playlist fetch failed: %d", resp.StatusCode))
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := proxy.RewritePlaylist(string(body), target, h.baseURL(r), headers)
	metrics.PlaylistsRewritten.Inc()

	h.svc.PrefetchSegments(result.PrefetchURLs, headers)
	h.logger.Debug("playlist rewritten",
		slog.String("url", target),
		slog.Int("prefetch_urls", len(result.PrefetchURLs)))

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(result.Playlist))
}
