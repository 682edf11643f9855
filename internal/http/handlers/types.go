// Package handlers provides HTTP handlers for hlsgate: the three raw
// streaming proxy endpoints plus the management API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/hlsgate/hlsgate/pkg/httpclient"
)

// ErrorResponse is the JSON error body returned by the proxy endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains memory usage information.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	FreeMemoryMB      float64 `json:"free_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// CacheHealth summarizes the proxy cache state for health reporting.
type CacheHealth struct {
	SegmentEntries  int  `json:"segment_entries"`
	SegmentDisabled bool `json:"segment_disabled"`
	TailEntries     int  `json:"tail_entries"`
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status          string                            `json:"status"`
	Timestamp       string                            `json:"timestamp"`
	Version         string                            `json:"version"`
	Uptime          string                            `json:"uptime"`
	UptimeSeconds   float64                           `json:"uptime_seconds"`
	CPUInfo         CPUInfo                           `json:"cpu_info"`
	Memory          MemoryInfo                        `json:"memory"`
	Cache           CacheHealth                       `json:"cache"`
	CircuitBreakers []httpclient.CircuitBreakerStatus `json:"circuit_breakers"`
}
