package proxy

import (
	"encoding/json"
	"net/url"
)

// Proxy endpoint paths.
const (
	PlaylistEndpoint = "/m3u8-proxy"
	SegmentEndpoint  = "/ts-proxy"
	SubtitleEndpoint = "/sub-proxy"
)

// ParseHeadersParam decodes the headers query parameter, a JSON object of
// header name to value. Malformed input yields an empty map; the request
// proceeds without forwarded headers.
func ParseHeadersParam(raw string) map[string]string {
	headers := map[string]string{}
	if raw == "" {
		return headers
	}
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return map[string]string{}
	}
	return headers
}

// EncodeHeaders encodes a header map as its canonical JSON form.
// json.Marshal sorts map keys, so the output is deterministic.
func EncodeHeaders(headers map[string]string) string {
	if headers == nil {
		headers = map[string]string{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// endpointURL builds a proxied URL for the given endpoint. A nil headers map
// omits the headers parameter entirely; an empty map encodes as "{}".
func endpointURL(base, endpoint, target string, headers map[string]string) string {
	u := base + endpoint + "?url=" + url.QueryEscape(target)
	if headers != nil {
		u += "&headers=" + url.QueryEscape(EncodeHeaders(headers))
	}
	return u
}

// PlaylistProxyURL returns the proxied playlist URL for target.
func PlaylistProxyURL(base, target string, headers map[string]string) string {
	return endpointURL(base, PlaylistEndpoint, target, headers)
}

// SegmentProxyURL returns the proxied segment URL for target.
func SegmentProxyURL(base, target string, headers map[string]string) string {
	return endpointURL(base, SegmentEndpoint, target, headers)
}

// SubtitleProxyURL returns the proxied subtitle URL for target.
func SubtitleProxyURL(base, target string, headers map[string]string) string {
	return endpointURL(base, SubtitleEndpoint, target, headers)
}
