package proxy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/hlsgate/hlsgate/internal/urlutil"
)

// Stream is a stream descriptor as exchanged with upstream collaborators.
type Stream struct {
	URL      string            `json:"url"`
	Name     string            `json:"name,omitempty"`
	Quality  string            `json:"quality,omitempty"`
	Language string            `json:"language,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// directFileExtRe matches container-file URLs that players fetch with byte
// ranges rather than as HLS playlists.
var directFileExtRe = regexp.MustCompile(`(?i)\.(mp4|mkv)(\?|$)`)

// legacyProxyPatterns are URL shapes produced by earlier proxy deployments.
// The first capture group is the embedded origin URL.
var legacyProxyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/api/[^/]+/proxy\?url=(.+)$`),
	regexp.MustCompile(`/proxy\?.*url=([^&]+)`),
	regexp.MustCompile(`/stream/proxy/(.+)$`),
	regexp.MustCompile(`/p/(.+)$`),
}

var proxyPathRe = regexp.MustCompile(`/proxy/(.+)$`)

// ExtractOriginURL recovers the true origin URL from a possibly
// already-proxied URL. Unrecognized shapes are returned unchanged, so the
// function is safe to apply to any URL.
func ExtractOriginURL(proxyURL string) string {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}

	if strings.Contains(parsed.Path, "/proxy/") {
		if m := proxyPathRe.FindStringSubmatch(parsed.Path); m != nil {
			return decodeRepeatedly(m[1])
		}
	}

	if v := parsed.Query().Get("url"); v != "" {
		// Some producers double-encode the parameter. Unwrap one more layer
		// only when the value is not already a usable absolute URL, so
		// origin URLs containing literal escapes survive a round trip.
		if !urlutil.IsAbsoluteHTTP(v) {
			if d, err := url.QueryUnescape(v); err == nil && urlutil.IsAbsoluteHTTP(d) {
				return d
			}
		}
		return v
	}

	for _, p := range legacyProxyPatterns {
		if m := p.FindStringSubmatch(proxyURL); m != nil {
			if d, err := url.QueryUnescape(m[1]); err == nil {
				return d
			}
			return m[1]
		}
	}

	return proxyURL
}

// decodeRepeatedly unescapes s until no encoded slashes remain, bounded so a
// hostile input cannot loop forever.
func decodeRepeatedly(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	for i := 0; i < 8 && strings.Contains(decoded, "%2F"); i++ {
		next, err := url.QueryUnescape(decoded)
		if err != nil {
			break
		}
		decoded = next
	}
	return decoded
}

// isDirectFileHost reports whether the host serves direct container files
// that must route through the segment endpoint regardless of extension.
func isDirectFileHost(host string) bool {
	host = strings.ToLower(host)
	return strings.Contains(host, "pixeldrain.") || host == "video-downloads.googleusercontent.com"
}

// RouteStreams rewrites stream descriptor URLs so playback routes through
// this proxy at base. Direct container files and known direct-file hosts go
// to the segment endpoint, everything else to the playlist endpoint.
// Per-stream headers are folded into the proxied URL and dropped from the
// returned descriptor.
func RouteStreams(streams []Stream, base string) []Stream {
	out := make([]Stream, len(streams))
	for i, s := range streams {
		out[i] = routeStream(s, base)
	}
	return out
}

func routeStream(s Stream, base string) Stream {
	if s.URL == "" {
		return s
	}

	origin := ExtractOriginURL(s.URL)

	// A nil headers map omits the parameter from the rewritten URL.
	var headers map[string]string
	if len(s.Headers) > 0 {
		headers = s.Headers
	}

	var host string
	if parsed, err := url.Parse(origin); err == nil {
		host = parsed.Hostname()
	}

	routed := s
	routed.Headers = nil
	if isDirectFileHost(host) || directFileExtRe.MatchString(origin) {
		routed.URL = SegmentProxyURL(base, origin, headers)
	} else {
		routed.URL = PlaylistProxyURL(base, origin, headers)
	}
	return routed
}
