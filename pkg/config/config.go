package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default local API listen address.
	DefaultListen = "127.0.0.1:8790"

	// DefaultCachePath is the default SQLite cache location.
	DefaultCachePath = "./actionsdash.db"

	// DefaultRequestTimeout bounds each HTTP fallback request.
	DefaultRequestTimeout = "30s"

	// DefaultBackendRequestsPerMinute paces the HTTP fallback fetcher.
	DefaultBackendRequestsPerMinute = 60

	// DefaultFetchConcurrency is the number of fallback pages fetched
	// in parallel.
	DefaultFetchConcurrency = 4
)

// Config is the root configuration for actionsdash.
type Config struct {
	Global  GlobalConfig  `yaml:"global"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Server  ServerConfig  `yaml:"server"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// BackendConfig describes the telemetry backend that streams workflow
// runs.
type BackendConfig struct {
	// StreamURL is the WebSocket endpoint (ws:// or wss://).
	StreamURL string `yaml:"stream_url"`

	// APIURL is the HTTP base URL used by the non-streaming fallback
	// fetcher. Optional; the fallback is disabled when empty.
	APIURL string `yaml:"api_url,omitempty"`

	RequestTimeout    string `yaml:"request_timeout,omitempty"`
	RequestsPerMinute int    `yaml:"requests_per_minute,omitempty"`
	FetchConcurrency  int    `yaml:"fetch_concurrency,omitempty"`
}

// CacheConfig contains durable cache settings.
type CacheConfig struct {
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig selects and configures the cache database driver.
type DatabaseConfig struct {
	Driver   string                 `yaml:"driver"`
	SQLite   SQLiteDatabaseConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresDatabaseConfig `yaml:"postgres,omitempty"`
}

// SQLiteDatabaseConfig contains SQLite settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path"`
}

// PostgresDatabaseConfig contains PostgreSQL settings.
type PostgresDatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ServerConfig contains local API server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting on the local API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`

	// Burst is the bucket size; it defaults to the per-minute limit.
	Burst int `yaml:"burst,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
// options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 120
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = c.Server.RateLimit.RequestsPerMinute
	}

	if c.Cache.Database.Driver == "" {
		c.Cache.Database.Driver = "sqlite"
	}

	if c.Cache.Database.Driver == "sqlite" && c.Cache.Database.SQLite.Path == "" {
		c.Cache.Database.SQLite.Path = DefaultCachePath
	}

	if c.Backend.RequestTimeout == "" {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}

	if c.Backend.RequestsPerMinute == 0 {
		c.Backend.RequestsPerMinute = DefaultBackendRequestsPerMinute
	}

	if c.Backend.FetchConcurrency == 0 {
		c.Backend.FetchConcurrency = DefaultFetchConcurrency
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Backend.StreamURL == "" {
		return fmt.Errorf("backend stream_url is required")
	}

	u, err := url.Parse(c.Backend.StreamURL)
	if err != nil {
		return fmt.Errorf("parsing backend stream_url: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf(
			"backend stream_url must use ws or wss scheme, got %q", u.Scheme,
		)
	}

	if c.Backend.APIURL != "" {
		if _, err := url.Parse(c.Backend.APIURL); err != nil {
			return fmt.Errorf("parsing backend api_url: %w", err)
		}
	}

	if _, err := time.ParseDuration(c.Backend.RequestTimeout); err != nil {
		return fmt.Errorf("parsing backend request_timeout: %w", err)
	}

	switch c.Cache.Database.Driver {
	case "sqlite":
		if c.Cache.Database.SQLite.Path == "" {
			return fmt.Errorf("cache sqlite path is required")
		}
	case "postgres":
		if c.Cache.Database.Postgres.Host == "" {
			return fmt.Errorf("cache postgres host is required")
		}

		if c.Cache.Database.Postgres.Database == "" {
			return fmt.Errorf("cache postgres database is required")
		}
	default:
		return fmt.Errorf(
			"unsupported cache database driver: %s", c.Cache.Database.Driver,
		)
	}

	return nil
}

// RequestTimeoutDuration returns the parsed fallback request timeout.
// Validate must have been called first.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Backend.RequestTimeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultRequestTimeout)
	}

	return d
}
