package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/proxy"
)

func newTestHandler(t *testing.T) (*ProxyHandler, *proxy.Service) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Upstream.Timeout = 5 * time.Second
	svc := proxy.New(cfg, nil)
	return NewProxyHandler(svc, nil), svc
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestServePlaylistMissingURL(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServePlaylist(rec, httptest.NewRequest(http.MethodGet, "/m3u8-proxy", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "url parameter required", decodeError(t, rec))
}

func TestServePlaylistRewritesAndPrefetches(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:10",
		"#EXTINF:10,",
		"seg1.ts",
		"#EXT-X-ENDLIST",
	}, "\n")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			w.Write([]byte(playlist))
			return
		}
		w.Write([]byte("segment-bytes"))
	}))
	defer upstream.Close()

	h, svc := newTestHandler(t)
	target := upstream.URL + "/live/index.m3u8"

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/m3u8-proxy?url="+url.QueryEscape(target), nil)
	req.Host = "proxy.test"
	h.ServePlaylist(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	segURL := upstream.URL + "/live/seg1.ts"
	assert.Contains(t, rec.Body.String(), proxy.SegmentProxyURL("http://proxy.test", segURL, map[string]string{}))

	// The referenced segment is warmed into the cache in the background.
	svc.Stop()
	assert.True(t, svc.Segments().Has(segURL))
}

func TestServePlaylistUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServePlaylist(rec, httptest.NewRequest(http.MethodGet, "/m3u8-proxy?url="+url.QueryEscape(upstream.URL+"/gone.m3u8"), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "playlist fetch failed: 404", decodeError(t, rec))
}

func TestServePlaylistPublicURLOverride(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("seg1.ts"))
	}))
	defer upstream.Close()

	h, svc := newTestHandler(t)
	h.cfg.Server.PublicURL = "https://edge.example.com/"
	defer svc.Stop()

	rec := httptest.NewRecorder()
	h.ServePlaylist(rec, httptest.NewRequest(http.MethodGet, "/m3u8-proxy?url="+url.QueryEscape(upstream.URL+"/index.m3u8"), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://edge.example.com/ts-proxy?url=")
}
