package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/proxy"
	"github.com/hlsgate/hlsgate/internal/urlutil"
)

// StreamsHandler exposes the stream-descriptor routing transform used by
// aggregation collaborators: raw stream URLs in, proxy-routed URLs out.
type StreamsHandler struct {
	cfg *config.Config
}

// NewStreamsHandler creates a streams handler.
func NewStreamsHandler(cfg *config.Config) *StreamsHandler {
	return &StreamsHandler{cfg: cfg}
}

// RouteStreamsInput is the input for the stream routing endpoint.
type RouteStreamsInput struct {
	Body struct {
		// BaseURL overrides the configured public URL for this request.
		BaseURL string         `json:"base_url,omitempty" doc:"Proxy base URL used in rewritten stream URLs"`
		Streams []proxy.Stream `json:"streams"`
	}
}

// RouteStreamsOutput is the output for the stream routing endpoint.
type RouteStreamsOutput struct {
	Body struct {
		Streams []proxy.Stream `json:"streams"`
	}
}

// Register registers the stream routing route with the API.
func (h *StreamsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "routeStreams",
		Method:      "POST",
		Path:        "/api/v1/streams/route",
		Summary:     "Route stream descriptors through the proxy",
		Description: "Rewrites stream descriptor URLs so playback routes through the proxy endpoints. Per-stream headers are folded into the rewritten URL.",
		Tags:        []string{"Streams"},
	}, h.RouteStreams)
}

// RouteStreams rewrites the given stream descriptors.
func (h *StreamsHandler) RouteStreams(ctx context.Context, input *RouteStreamsInput) (*RouteStreamsOutput, error) {
	base := input.Body.BaseURL
	if base == "" {
		base = h.cfg.Server.PublicURL
	}
	if base == "" {
		return nil, huma.Error400BadRequest("base_url required when no public URL is configured")
	}

	resp := &RouteStreamsOutput{}
	resp.Body.Streams = proxy.RouteStreams(input.Body.Streams, urlutil.NormalizeBaseURL(base))
	return resp, nil
}
