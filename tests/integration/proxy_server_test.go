package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsgate/hlsgate/internal/config"
	internalhttp "github.com/hlsgate/hlsgate/internal/http"
	"github.com/hlsgate/hlsgate/internal/http/handlers"
	"github.com/hlsgate/hlsgate/internal/observability"
	"github.com/hlsgate/hlsgate/internal/proxy"
)

// startServer wires the full HTTP stack the way the serve command does and
// exposes it on an ephemeral port.
func startServer(t *testing.T) (*httptest.Server, *proxy.Service) {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Upstream.Timeout = 5 * time.Second

	logger := observability.NewLogger(cfg.Logging)
	svc := proxy.New(cfg, logger)

	server := internalhttp.NewServer(cfg.Server, logger, "test")
	handlers.RegisterAll(server.API(), server.Router(), svc, logger, "test")

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, svc
}

func TestProxyServerEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:10",
		"#EXTINF:10,",
		"seg1.ts",
		"#EXT-X-ENDLIST",
	}, "\n")
	segment := []byte("segment-payload")

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".m3u8"):
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			w.Write([]byte(playlist))
		default:
			w.Write(segment)
		}
	}))
	defer origin.Close()

	ts, svc := startServer(t)
	defer svc.Stop()

	t.Run("playlist_is_rewritten_to_proxy_urls", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/m3u8-proxy?url=" + url.QueryEscape(origin.URL+"/live/index.m3u8"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), ts.URL+"/ts-proxy?url=")

		// The rewritten segment URL must itself be fetchable through the proxy.
		segLine := ""
		for _, line := range strings.Split(string(body), "\n") {
			if strings.HasPrefix(line, "http") {
				segLine = line
				break
			}
		}
		require.NotEmpty(t, segLine)

		segResp, err := http.Get(segLine)
		require.NoError(t, err)
		defer segResp.Body.Close()

		require.Equal(t, http.StatusOK, segResp.StatusCode)
		segBody, err := io.ReadAll(segResp.Body)
		require.NoError(t, err)
		assert.Equal(t, segment, segBody)
	})

	t.Run("segment_range_request_forwards_partial_content", func(t *testing.T) {
		rangeOrigin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "bytes=0-3", r.Header.Get("Range"))
			w.Header().Set("Content-Range", "bytes 0-3/100")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("abcd"))
		}))
		defer rangeOrigin.Close()

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/ts-proxy?url="+url.QueryEscape(rangeOrigin.URL+"/movie.mp4"), nil)
		require.NoError(t, err)
		req.Header.Set("Range", "bytes=0-3")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 0-3/100", resp.Header.Get("Content-Range"))
	})

	t.Run("health_endpoint_reports_status", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var health map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.NotEmpty(t, health)
	})

	t.Run("stats_and_cache_flush", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/proxy/stats")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/proxy/cache", nil)
		require.NoError(t, err)
		flushResp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer flushResp.Body.Close()
		assert.Equal(t, http.StatusOK, flushResp.StatusCode)
	})

	t.Run("metrics_endpoint_serves_prometheus_text", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	})
}
