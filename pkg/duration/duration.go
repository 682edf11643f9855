// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with support for days and
// weeks, and accepts spelled-out unit names with optional whitespace:
//
//   - "90s", "5m", "2h" (standard Go forms)
//   - "1d", "2 days", "1 week"
//   - "1w2d12h"
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// extendedUnits maps units beyond time.ParseDuration's range to their hour
// count. Hours are the largest unit the standard parser accepts.
var extendedUnits = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"wks":   7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,

	"d":    24,
	"day":  24,
	"days": 24,
}

// wordUnits maps spelled-out standard units to the short forms the standard
// parser understands.
var wordUnits = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms",
	"microsecond": "us", "microseconds": "us",
	"nanosecond": "ns", "nanoseconds": "ns",
}

var (
	extendedUnitRe = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)
	wordUnitRe     = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|microseconds?|nanoseconds?)`)
)

// Parse parses a human-readable duration string. Day and week units are
// converted to hours, spelled-out units to their short forms, and the result
// is handed to time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}
	s = strings.TrimSpace(s)

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var hours int64
	rest := extendedUnitRe.ReplaceAllStringFunc(s, func(match string) string {
		m := extendedUnitRe.FindStringSubmatch(match)
		value, _ := strconv.ParseInt(m[1], 10, 64)
		hours += value * extendedUnits[strings.ToLower(m[2])]
		return ""
	})

	rest = wordUnitRe.ReplaceAllStringFunc(rest, func(match string) string {
		m := wordUnitRe.FindStringSubmatch(match)
		return m[1] + wordUnits[strings.ToLower(m[2])]
	})

	// The standard parser rejects whitespace and uppercase units.
	rest = strings.ToLower(strings.Join(strings.Fields(rest), ""))

	var spec string
	if hours > 0 {
		spec = fmt.Sprintf("%dh", hours)
	}
	spec += rest
	if spec == "" {
		spec = "0s"
	}

	d, err := time.ParseDuration(spec)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d using the largest fitting units, days included, with zero
// components omitted: 26h becomes "1d2h", 90s becomes "1m30s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	if days := d / Day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		d -= days * Day
	}
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dh", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dm", m)
		d -= m * time.Minute
	}
	if d > 0 {
		// Sub-minute remainder in the standard format (1.5s, 250ms).
		b.WriteString(d.String())
	}
	return b.String()
}
