package handlers

import (
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hlsgate/hlsgate/internal/proxy"
)

// RegisterAll wires every handler: the raw streaming endpoints on the router
// and the management operations on the API.
func RegisterAll(api huma.API, router chi.Router, svc *proxy.Service, logger *slog.Logger, version string) {
	p := NewProxyHandler(svc, logger)
	router.Get(proxy.PlaylistEndpoint, p.ServePlaylist)
	router.Get(proxy.SegmentEndpoint, p.ServeSegment)
	router.Get(proxy.SubtitleEndpoint, p.ServeSubtitle)

	router.Handle("/metrics", promhttp.Handler())

	NewHealthHandler(version, svc).Register(api)
	NewStatsHandler(svc).Register(api)
	NewStreamsHandler(svc.Config()).Register(api)
}
