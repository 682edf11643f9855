package proxy

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	absoluteURLRe  = regexp.MustCompile(`https?://[^"\s]+`)
	quotedURIRe    = regexp.MustCompile(`URI="([^"]+)"`)
	playlistExtRe  = regexp.MustCompile(`(?i)\.m3u8(\?|$)`)
	keyDirective   = "#EXT-X-KEY:"
	mediaDirective = "#EXT-X-MEDIA:"
	iframDirective = "#EXT-X-I-FRAME-STREAM-INF:"
)

// RewriteResult is the outcome of rewriting one playlist.
type RewriteResult struct {
	// Playlist is the rewritten playlist text.
	Playlist string
	// PrefetchURLs are the upstream key and media segment URLs referenced by
	// the playlist, candidates for best-effort cache prefetch.
	PrefetchURLs []string
}

// RewritePlaylist rewrites an HLS playlist fetched from targetURL so that
// every referenced URL routes back through the proxy at base. The forwarded
// headers are embedded in each rewritten URL so follow-up requests reach the
// upstream with the same credentials.
//
// The rewrite is line oriented and forgiving: malformed or unresolvable lines
// pass through unmodified rather than failing the whole playlist.
func RewritePlaylist(content, targetURL, base string, headers map[string]string) RewriteResult {
	playlistURL, err := url.Parse(targetURL)
	if err != nil {
		playlistURL = nil
	}

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	var prefetch []string

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, keyDirective):
			keyURL := absoluteURLRe.FindString(line)
			if keyURL == "" {
				out = append(out, line)
				continue
			}
			out = append(out, strings.Replace(line, keyURL, SegmentProxyURL(base, keyURL, headers), 1))
			prefetch = append(prefetch, keyURL)

		case strings.HasPrefix(line, mediaDirective) || strings.HasPrefix(line, iframDirective):
			out = append(out, rewriteQuotedURI(line, playlistURL, base, headers))

		case strings.HasPrefix(line, "#"):
			out = append(out, line)

		case strings.TrimSpace(line) != "":
			resolved, ok := resolveAgainst(playlistURL, strings.TrimSpace(line))
			if !ok {
				out = append(out, line)
				continue
			}
			if playlistExtRe.MatchString(resolved) {
				out = append(out, PlaylistProxyURL(base, resolved, headers))
			} else {
				out = append(out, SegmentProxyURL(base, resolved, headers))
				prefetch = append(prefetch, resolved)
			}

		default:
			out = append(out, line)
		}
	}

	return RewriteResult{
		Playlist:     strings.Join(out, "\n"),
		PrefetchURLs: prefetch,
	}
}

// rewriteQuotedURI rewrites the URI="…" attribute of a rendition or I-frame
// directive to a proxied playlist URL. Lines without a resolvable URI pass
// through unchanged.
func rewriteQuotedURI(line string, playlistURL *url.URL, base string, headers map[string]string) string {
	m := quotedURIRe.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	resolved, ok := resolveAgainst(playlistURL, m[1])
	if !ok {
		return line
	}
	return strings.Replace(line, m[1], PlaylistProxyURL(base, resolved, headers), 1)
}

// resolveAgainst resolves ref against the playlist URL. Absolute refs are
// returned as-is; relative refs require a valid playlist URL.
func resolveAgainst(playlistURL *url.URL, ref string) (string, bool) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if refURL.IsAbs() {
		return refURL.String(), true
	}
	if playlistURL == nil {
		return "", false
	}
	resolved := playlistURL.ResolveReference(refURL)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}
