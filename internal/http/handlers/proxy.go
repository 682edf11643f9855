package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/observability"
	"github.com/hlsgate/hlsgate/internal/proxy"
	"github.com/hlsgate/hlsgate/internal/urlutil"
)

// ProxyHandler serves the three raw streaming endpoints. These are plain chi
// handlers rather than API operations: segment responses stream unbounded
// media bodies and need direct control over status lines and headers.
type ProxyHandler struct {
	svc    *proxy.Service
	cfg    *config.Config
	logger *slog.Logger
}

// NewProxyHandler creates a proxy handler backed by the given service.
func NewProxyHandler(svc *proxy.Service, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		svc:    svc,
		cfg:    svc.Config(),
		logger: observability.WithComponent(logger, "handlers"),
	}
}

// baseURL returns the externally reachable base URL used when rewriting
// playlists: the configured public URL when set, otherwise derived from the
// incoming request's forwarded protocol and host.
func (h *ProxyHandler) baseURL(r *http.Request) string {
	if h.cfg.Server.PublicURL != "" {
		return urlutil.NormalizeBaseURL(h.cfg.Server.PublicURL)
	}

	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host
}
