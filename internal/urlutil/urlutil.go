// Package urlutil provides URL manipulation utilities.
package urlutil

import (
	"net/url"
	"strings"
)

// NormalizeBaseURL normalizes a base URL for consistent use:
//   - Adds http:// scheme if no scheme provided
//   - Removes trailing slash for clean path joining
//
// Examples:
//
//	"edge.example.com"          -> "http://edge.example.com"
//	"https://edge.example.com/" -> "https://edge.example.com"
//	"localhost:8080"            -> "http://localhost:8080"
func NormalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}

	baseURL = strings.TrimSpace(baseURL)

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return strings.TrimSuffix(baseURL, "/")
}

// IsAbsoluteHTTP reports whether s parses as an absolute http(s) URL.
func IsAbsoluteHTTP(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}
