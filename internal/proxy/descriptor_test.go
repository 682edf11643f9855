package proxy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractOriginURLPathForm(t *testing.T) {
	origin := "https://cdn.example.com/live/index.m3u8"

	got := ExtractOriginURL("https://old-proxy.example.com/proxy/" + url.QueryEscape(origin))
	assert.Equal(t, origin, got)

	// Doubly-encoded paths unwrap until the slashes reappear.
	double := url.QueryEscape(url.QueryEscape(origin))
	got = ExtractOriginURL("https://old-proxy.example.com/proxy/" + double)
	assert.Equal(t, origin, got)
}

func TestExtractOriginURLQueryForm(t *testing.T) {
	origin := "https://cdn.example.com/live/index.m3u8?token=a%2Fb"

	proxied := SegmentProxyURL("https://proxy.example.com", origin, nil)
	assert.Equal(t, origin, ExtractOriginURL(proxied))

	// Double-encoded url parameter.
	got := ExtractOriginURL("https://proxy.example.com/ts-proxy?url=" + url.QueryEscape(url.QueryEscape("https://cdn.example.com/a.ts")))
	assert.Equal(t, "https://cdn.example.com/a.ts", got)
}

func TestExtractOriginURLLegacyShapes(t *testing.T) {
	origin := "https://cdn.example.com/index.m3u8"
	escaped := url.QueryEscape(origin)

	tests := []string{
		"https://old.example.com/api/v2/proxy?url=" + escaped,
		"https://old.example.com/proxy?foo=1&url=" + escaped,
		"https://old.example.com/stream/proxy/" + escaped,
		"https://old.example.com/p/" + escaped,
	}
	for _, in := range tests {
		assert.Equal(t, origin, ExtractOriginURL(in), "input %q", in)
	}
}

func TestExtractOriginURLPassthrough(t *testing.T) {
	for _, in := range []string{
		"https://cdn.example.com/live/index.m3u8",
		"https://cdn.example.com/file.mp4?token=abc",
		"not a url at all",
	} {
		assert.Equal(t, in, ExtractOriginURL(in))
	}
}

func TestExtractOriginURLRoundTrip(t *testing.T) {
	// Building a proxied URL and extracting the origin back must be lossless,
	// including origins that carry literal percent escapes.
	origins := []string{
		"https://cdn.example.com/live/index.m3u8",
		"https://cdn.example.com/seg.ts?sig=ab%2Fcd&e=1",
		"https://cdn.example.com/path%20with%20space/seg.ts",
	}
	for _, origin := range origins {
		for _, proxied := range []string{
			PlaylistProxyURL("https://p.example.com", origin, nil),
			SegmentProxyURL("https://p.example.com", origin, map[string]string{"Referer": "https://r/"}),
		} {
			assert.Equal(t, origin, ExtractOriginURL(proxied), "origin %q via %q", origin, proxied)
		}
	}
}

func TestRouteStreamsPlaylists(t *testing.T) {
	streams := []Stream{
		{URL: "https://cdn.example.com/live/index.m3u8", Name: "Main", Quality: "1080p"},
	}

	routed := RouteStreams(streams, "https://proxy.example.com")
	require.Len(t, routed, 1)
	assert.Equal(t, PlaylistProxyURL("https://proxy.example.com", "https://cdn.example.com/live/index.m3u8", nil), routed[0].URL)
	assert.Equal(t, "Main", routed[0].Name)
	assert.Equal(t, "1080p", routed[0].Quality)
}

func TestRouteStreamsDirectFiles(t *testing.T) {
	base := "https://proxy.example.com"

	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/movie.mp4", SegmentProxyURL(base, "https://cdn.example.com/movie.mp4", nil)},
		{"https://cdn.example.com/movie.mkv?t=1", SegmentProxyURL(base, "https://cdn.example.com/movie.mkv?t=1", nil)},
		{"https://pixeldrain.com/api/file/abc", SegmentProxyURL(base, "https://pixeldrain.com/api/file/abc", nil)},
		{"https://video-downloads.googleusercontent.com/abc", SegmentProxyURL(base, "https://video-downloads.googleusercontent.com/abc", nil)},
		{"https://cdn.example.com/live/index.m3u8", PlaylistProxyURL(base, "https://cdn.example.com/live/index.m3u8", nil)},
	}
	for _, tt := range tests {
		routed := RouteStreams([]Stream{{URL: tt.url}}, base)
		assert.Equal(t, tt.want, routed[0].URL, "input %q", tt.url)
	}
}

func TestRouteStreamsFoldsHeaders(t *testing.T) {
	headers := map[string]string{"Referer": "https://site.example.com/"}
	streams := []Stream{{URL: "https://cdn.example.com/index.m3u8", Headers: headers}}

	routed := RouteStreams(streams, "https://proxy.example.com")
	assert.Nil(t, routed[0].Headers)
	assert.Equal(t, PlaylistProxyURL("https://proxy.example.com", "https://cdn.example.com/index.m3u8", headers), routed[0].URL)
}

func TestRouteStreamsUnwrapsProxiedInput(t *testing.T) {
	// An already-proxied URL is unwrapped before re-routing, so streams never
	// chain through two proxies.
	origin := "https://cdn.example.com/index.m3u8"
	in := "https://old.example.com/p/" + url.QueryEscape(origin)

	routed := RouteStreams([]Stream{{URL: in}}, "https://proxy.example.com")
	assert.Equal(t, PlaylistProxyURL("https://proxy.example.com", origin, nil), routed[0].URL)
}

func TestRouteStreamsEmptyURL(t *testing.T) {
	routed := RouteStreams([]Stream{{Name: "broken"}}, "https://proxy.example.com")
	assert.Empty(t, routed[0].URL)
	assert.Equal(t, "broken", routed[0].Name)
}
