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

// ServeSubtitle handles the subtitle proxy endpoint: a plain pass-through
// fetch with permissive CORS. Subtitles are small and fetched once per play
// session, so there is no caching or range handling.
func (h *ProxyHandler) ServeSubtitle(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	headers := proxy.ParseHeadersParam(r.URL.Query().Get("headers"))

	resp, err := h.svc.Fetch(r.Context(), target, headers, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues("subtitle", strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		writeError(w, resp.StatusCode, fmt.Sprintf("subtitle fetch failed: %d", resp.StatusCode))
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/vtt"
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", ct)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("subtitle stream interrupted",
			slog.String("url", target),
			slog.String("error", err.Error()))
	}
}
