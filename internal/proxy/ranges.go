package proxy

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hlsgate/hlsgate/internal/config"
	"github.com/hlsgate/hlsgate/internal/metrics"
)

var (
	openFullRangeRe   = regexp.MustCompile(`(?i)^bytes=0-\s*$`)
	openSuffixRangeRe = regexp.MustCompile(`(?i)^bytes=(\d+)-$`)
	contentRangeRe    = regexp.MustCompile(`(?i)bytes\s+(\d+)-(\d+)/(\d+|\*)`)
)

// IsOpenFullRange reports whether the header value is an open-ended request
// for the whole resource (bytes=0-).
func IsOpenFullRange(rangeVal string) bool {
	return openFullRangeRe.MatchString(rangeVal)
}

// ParseOpenSuffix parses an open-ended range bytes=N- and returns N.
func ParseOpenSuffix(rangeVal string) (int64, bool) {
	m := openSuffixRangeRe.FindStringSubmatch(rangeVal)
	if m == nil {
		return 0, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// ContentRange is a parsed Content-Range response header.
type ContentRange struct {
	Start int64
	End   int64
	// Total is -1 when upstream reported an unknown total (*).
	Total int64
}

// Span returns the number of bytes covered by the range.
func (cr ContentRange) Span() int64 {
	return cr.End - cr.Start + 1
}

// ParseContentRange parses a Content-Range header of the form
// "bytes start-end/total" where total may be "*".
func ParseContentRange(header string) (ContentRange, bool) {
	m := contentRangeRe.FindStringSubmatch(header)
	if m == nil {
		return ContentRange{}, false
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ContentRange{}, false
	}
	end, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return ContentRange{}, false
	}

	total := int64(-1)
	if m[3] != "*" {
		total, err = strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return ContentRange{}, false
		}
	}

	if end < start {
		return ContentRange{}, false
	}
	return ContentRange{Start: start, End: end, Total: total}, true
}

// RangeOptions carries the per-request negotiation flags, resolved from query
// parameters against configured defaults by the handler.
type RangeOptions struct {
	// Force200 strips the Range header upstream and normalizes 206 to 200.
	Force200 bool
	// ProgressiveOpen grows the served window of bytes=0- requests per URL.
	ProgressiveOpen bool
	// ClampOpen rewrites the first bytes=0- request per URL within a TTL
	// window. Only consulted when ProgressiveOpen is off.
	ClampOpen bool
	// OpenChunk is the growth step / clamp size in bytes.
	OpenChunk int64
}

// Negotiation is the outcome of range negotiation for one request.
type Negotiation struct {
	// Effective is the Range header value to send upstream; empty means none.
	Effective string
	// Rewritten is true when Effective differs from the client's Range.
	Rewritten bool
	// Strategy names the decision taken, for logs and metrics.
	Strategy string
}

// RangeNegotiator tracks per-URL open-range state: progressive growth windows
// (process lifetime) and one-shot clamp timestamps (TTL bounded).
type RangeNegotiator struct {
	mu          sync.Mutex
	progressive map[string]int64 // url -> last granted end offset

	clamped *expirable.LRU[string, time.Time]

	openRangeCap int64
}

// NewRangeNegotiator creates a negotiator from configuration.
func NewRangeNegotiator(cfg config.RangesConfig) *RangeNegotiator {
	// The clamp map only needs to answer "was this URL clamped within the
	// TTL"; the expirable LRU handles both the TTL and a size bound.
	const clampMapSize = 8192
	return &RangeNegotiator{
		progressive:  make(map[string]int64),
		clamped:      expirable.NewLRU[string, time.Time](clampMapSize, nil, cfg.ClampTTL),
		openRangeCap: cfg.OpenRangeCap.Bytes(),
	}
}

// Negotiate computes the effective upstream range for a request.
//
// Only open-ended full requests (bytes=0-) are ever rewritten. Bounded and
// suffix ranges pass through untouched, as does everything under force200
// (the caller strips the header before the upstream call in that case).
func (n *RangeNegotiator) Negotiate(url, clientRange string, opts RangeOptions) Negotiation {
	if clientRange == "" {
		return Negotiation{Strategy: "none"}
	}

	if opts.Force200 || !IsOpenFullRange(clientRange) {
		metrics.RangeNegotiations.WithLabelValues("passthrough").Inc()
		return Negotiation{Effective: clientRange, Strategy: "passthrough"}
	}

	if opts.ProgressiveOpen {
		end := n.grow(url, opts.OpenChunk)
		metrics.RangeNegotiations.WithLabelValues("progressive").Inc()
		return Negotiation{
			Effective: fmt.Sprintf("bytes=0-%d", end),
			Rewritten: true,
			Strategy:  "progressive",
		}
	}

	if opts.ClampOpen {
		if _, seen := n.clamped.Get(url); !seen {
			n.clamped.Add(url, time.Now())
			metrics.RangeNegotiations.WithLabelValues("clamp").Inc()
			return Negotiation{
				Effective: fmt.Sprintf("bytes=0-%d", opts.OpenChunk-1),
				Rewritten: true,
				Strategy:  "clamp",
			}
		}
	}

	metrics.RangeNegotiations.WithLabelValues("passthrough").Inc()
	return Negotiation{Effective: clientRange, Strategy: "passthrough"}
}

// grow advances the per-URL progressive window by one chunk and returns the
// new end offset. The window never shrinks and never expires.
func (n *RangeNegotiator) grow(url string, chunk int64) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	limit := n.openRangeCap - 1
	last, ok := n.progressive[url]
	var next int64
	if !ok {
		next = chunk - 1
	} else {
		next = last + chunk
	}
	if next > limit {
		next = limit
	}
	n.progressive[url] = next
	return next
}

// ProgressiveSize returns the number of URLs with progressive state.
// Exposed through the stats endpoint so unbounded growth is observable.
func (n *RangeNegotiator) ProgressiveSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.progressive)
}

// ClampSize returns the number of URLs currently in the clamp window.
func (n *RangeNegotiator) ClampSize() int {
	return n.clamped.Len()
}

// Reset drops all negotiation state.
func (n *RangeNegotiator) Reset() {
	n.mu.Lock()
	n.progressive = make(map[string]int64)
	n.mu.Unlock()
	n.clamped.Purge()
}
