package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hlsgate/hlsgate/internal/proxy"
)

// StatsHandler exposes proxy state snapshots and cache management.
type StatsHandler struct {
	svc *proxy.Service
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(svc *proxy.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// GetStatsInput is the input for the stats endpoint.
type GetStatsInput struct{}

// GetStatsOutput is the output for the stats endpoint.
type GetStatsOutput struct {
	Body proxy.Stats
}

// FlushCacheInput is the input for the cache flush endpoint.
type FlushCacheInput struct{}

// FlushCacheOutput is the output for the cache flush endpoint.
type FlushCacheOutput struct {
	Body struct {
		Dropped int `json:"dropped"`
	}
}

// Register registers the stats routes with the API.
func (h *StatsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getProxyStats",
		Method:      "GET",
		Path:        "/api/v1/proxy/stats",
		Summary:     "Proxy state snapshot",
		Description: "Returns cache entry counts and range negotiation state sizes",
		Tags:        []string{"Proxy"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "flushProxyCache",
		Method:      "DELETE",
		Path:        "/api/v1/proxy/cache",
		Summary:     "Flush proxy caches",
		Description: "Drops all cached segments, tail windows, and range negotiation state",
		Tags:        []string{"Proxy"},
	}, h.FlushCache)
}

// GetStats returns a snapshot of the proxy state.
func (h *StatsHandler) GetStats(ctx context.Context, input *GetStatsInput) (*GetStatsOutput, error) {
	return &GetStatsOutput{Body: h.svc.Stats()}, nil
}

// FlushCache drops all proxy caches and negotiation state.
func (h *StatsHandler) FlushCache(ctx context.Context, input *FlushCacheInput) (*FlushCacheOutput, error) {
	resp := &FlushCacheOutput{}
	resp.Body.Dropped = h.svc.Flush()
	return resp, nil
}
