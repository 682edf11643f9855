// Package config provides configuration management for hlsgate using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/hlsgate/hlsgate/pkg/bytesize"
	"github.com/hlsgate/hlsgate/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultCacheMaxEntries     = 2000
	defaultPrefetchConcurrency = 5
	defaultCircuitThreshold    = 10
)

// DefaultUserAgent is sent upstream when the forwarded headers carry no
// User-Agent of their own. Many CDNs refuse requests without a browser UA.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Ranges   RangesConfig   `mapstructure:"ranges"`
	Tail     TailConfig     `mapstructure:"tail"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PublicURL is the externally reachable base URL used when rewriting
	// playlist entries. Empty means derive it from the incoming request.
	PublicURL string `mapstructure:"public_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CacheConfig holds segment cache configuration.
type CacheConfig struct {
	Disabled      bool          `mapstructure:"disabled"`
	MaxEntries    int           `mapstructure:"max_entries"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RangesConfig holds byte-range negotiation configuration.
// Sizes support human-readable values like "4MB" or raw byte counts.
type RangesConfig struct {
	// OpenChunk is the default growth step for open-ended ranges.
	OpenChunk ByteSize `mapstructure:"open_chunk"`
	// OpenChunkMin and OpenChunkMax bound per-request openChunkKB overrides.
	OpenChunkMin ByteSize `mapstructure:"open_chunk_min"`
	OpenChunkMax ByteSize `mapstructure:"open_chunk_max"`
	// OpenRangeCap caps the progressively grown end offset.
	OpenRangeCap ByteSize `mapstructure:"open_range_cap"`
	// InitChunk is the default synthesized initial-chunk size.
	InitChunk ByteSize `mapstructure:"init_chunk"`
	// InitChunkMin and InitChunkMax bound per-request initChunkKB overrides.
	InitChunkMin ByteSize `mapstructure:"init_chunk_min"`
	InitChunkMax ByteSize `mapstructure:"init_chunk_max"`
	// ClampTTL is the window within which an open-ended range is clamped
	// only once per URL (clamp mode).
	ClampTTL time.Duration `mapstructure:"clamp_ttl"`
	// ProgressiveOpen enables per-URL progressive growth by default.
	ProgressiveOpen bool `mapstructure:"progressive_open"`
	// ClampOpen enables one-shot clamping when progressive growth is off.
	ClampOpen bool `mapstructure:"clamp_open"`
}

// TailConfig holds tail prefetch cache configuration.
type TailConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Window is the default size of the prefetched tail slice.
	Window ByteSize `mapstructure:"window"`
	// WindowMin and WindowMax bound per-request tailPrefetchKB overrides.
	WindowMin     ByteSize      `mapstructure:"window_min"`
	WindowMax     ByteSize      `mapstructure:"window_max"`
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PrefetchConfig holds playlist segment prefetch configuration.
type PrefetchConfig struct {
	// Concurrency bounds how many segment prefetches run at once.
	Concurrency int `mapstructure:"concurrency"`
}

// UpstreamConfig holds upstream HTTP client configuration.
type UpstreamConfig struct {
	// Timeout applies to playlist and probe requests. Segment streaming
	// requests run without a deadline.
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// CircuitThreshold and CircuitTimeout configure the upstream breaker.
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSGATE_ and use underscores for
// nesting. Example: HLSGATE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsgate")
		v.AddConfigPath("$HOME/.hlsgate")
	}

	v.SetEnvPrefix("HLSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHooks builds the decode hook chain used when unmarshaling
// configuration: extended duration strings ("2h", "1 day"), text-unmarshalable
// types such as ByteSize, and comma-separated slices.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		stringToDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// stringToDurationHookFunc decodes duration strings, including day and week
// units the standard parser rejects, into time.Duration.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return duration.Parse(data.(string))
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.public_url", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Segment cache defaults
	v.SetDefault("cache.disabled", false)
	v.SetDefault("cache.max_entries", defaultCacheMaxEntries)
	v.SetDefault("cache.ttl", "2h")
	v.SetDefault("cache.sweep_interval", "30m")

	// Range negotiation defaults
	v.SetDefault("ranges.open_chunk", "4MB")
	v.SetDefault("ranges.open_chunk_min", "64KB")
	v.SetDefault("ranges.open_chunk_max", "16MB")
	v.SetDefault("ranges.open_range_cap", "256MB")
	v.SetDefault("ranges.init_chunk", "512KB")
	v.SetDefault("ranges.init_chunk_min", "64KB")
	v.SetDefault("ranges.init_chunk_max", "2MB")
	v.SetDefault("ranges.clamp_ttl", "5m")
	v.SetDefault("ranges.progressive_open", true)
	v.SetDefault("ranges.clamp_open", true)

	// Tail prefetch defaults
	v.SetDefault("tail.enabled", true)
	v.SetDefault("tail.window", "256KB")
	v.SetDefault("tail.window_min", "64KB")
	v.SetDefault("tail.window_max", "2MB")
	v.SetDefault("tail.ttl", "10m")
	v.SetDefault("tail.sweep_interval", "15m")

	// Prefetch defaults
	v.SetDefault("prefetch.concurrency", defaultPrefetchConcurrency)

	// Upstream defaults
	v.SetDefault("upstream.timeout", "60s")
	v.SetDefault("upstream.user_agent", DefaultUserAgent)
	v.SetDefault("upstream.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("upstream.circuit_timeout", "30s")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be at least 1")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be positive")
	}

	if c.Ranges.OpenChunk <= 0 {
		return fmt.Errorf("ranges.open_chunk must be positive")
	}
	if c.Ranges.OpenChunkMin > c.Ranges.OpenChunkMax {
		return fmt.Errorf("ranges.open_chunk_min must not exceed ranges.open_chunk_max")
	}
	if c.Ranges.InitChunk <= 0 {
		return fmt.Errorf("ranges.init_chunk must be positive")
	}
	if c.Ranges.InitChunkMin > c.Ranges.InitChunkMax {
		return fmt.Errorf("ranges.init_chunk_min must not exceed ranges.init_chunk_max")
	}
	if c.Ranges.OpenRangeCap < c.Ranges.OpenChunk {
		return fmt.Errorf("ranges.open_range_cap must be at least ranges.open_chunk")
	}
	if c.Ranges.ClampTTL <= 0 {
		return fmt.Errorf("ranges.clamp_ttl must be positive")
	}

	if c.Tail.Window <= 0 {
		return fmt.Errorf("tail.window must be positive")
	}
	if c.Tail.WindowMin > c.Tail.WindowMax {
		return fmt.Errorf("tail.window_min must not exceed tail.window_max")
	}
	if c.Tail.TTL <= 0 {
		return fmt.Errorf("tail.ttl must be positive")
	}

	if c.Prefetch.Concurrency < 1 {
		return fmt.Errorf("prefetch.concurrency must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClampKB clamps a kilobyte count to [lo, hi] and returns it as a byte count.
// Non-positive values fall back to def.
func ClampKB(kb int64, def, lo, hi ByteSize) ByteSize {
	if kb <= 0 {
		return def
	}
	size := ByteSize(bytesize.Size(kb) * bytesize.KB)
	if size < lo {
		return lo
	}
	if size > hi {
		return hi
	}
	return size
}
