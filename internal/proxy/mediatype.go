package proxy

import (
	"regexp"
)

var genericTypeRe = regexp.MustCompile(`(?i)application/(octet-stream|(x-)?zip)`)

var extTypeRes = []struct {
	re *regexp.Regexp
	ct string
}{
	{regexp.MustCompile(`(?i)\.mkv(\?|$)`), "video/x-matroska"},
	{regexp.MustCompile(`(?i)\.mp4(\?|$)`), "video/mp4"},
	{regexp.MustCompile(`(?i)\.m3u8(\?|$)`), "application/vnd.apple.mpegurl"},
	{regexp.MustCompile(`(?i)\.ts(\?|$)`), "video/mp2t"},
}

// InferContentType returns the Content-Type to serve for targetURL. The
// upstream value is kept unless it is missing or a generic binary/zip type,
// in which case the type is derived from the URL extension.
func InferContentType(upstreamCT, targetURL string) string {
	if upstreamCT != "" && !genericTypeRe.MatchString(upstreamCT) {
		return upstreamCT
	}
	for _, e := range extTypeRes {
		if e.re.MatchString(targetURL) {
			return e.ct
		}
	}
	return "application/octet-stream"
}
