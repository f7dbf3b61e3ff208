// Package config assembles the service configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file
// (--config flag or AUDITTRAIL_CONFIG), then AUDITTRAIL_* environment
// variables. Simple deployments set a handful of env vars; the file is for
// setups where the shape gets deep.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	Database  DatabaseConfig  `yaml:"database"`
	Batch     BatchConfig     `yaml:"batch"`
	Anchor    AnchorConfig    `yaml:"anchor"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	CORS      CORSConfig      `yaml:"cors"`
}

// DatabaseConfig selects the batch store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// BatchConfig controls the sealing triggers.
type BatchConfig struct {
	MaxSize      int      `yaml:"max_size"`
	MaxDwell     Duration `yaml:"max_dwell"`
	PollInterval Duration `yaml:"poll_interval"`
}

// AnchorConfig controls the ledger retry schedule.
type AnchorConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxJitter   Duration `yaml:"max_jitter"`
}

// LedgerConfig selects the anchoring target. Local mode keeps an in-process
// registry; http mode talks to a ledger gateway.
type LedgerConfig struct {
	Mode    string   `yaml:"mode"` // local | http
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

// AuthConfig controls the bearer token gate. An empty secret leaves the API
// open, which is the dev default.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// RateLimitConfig caps ingest throughput per authenticated subject. A Redis
// address switches the bucket state to shared storage for multi-replica
// deployments.
type RateLimitConfig struct {
	RPM           int    `yaml:"rpm"`
	Burst         int    `yaml:"burst"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// ArchiveConfig selects where exported proof bundles land.
type ArchiveConfig struct {
	Backend  string `yaml:"backend"` // fs | s3 | gcs
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// TelemetryConfig controls the OpenTelemetry provider.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Database:   DatabaseConfig{Driver: "memory"},
		Batch: BatchConfig{
			MaxSize:      50,
			MaxDwell:     Duration(5 * time.Minute),
			PollInterval: Duration(time.Second),
		},
		Anchor: AnchorConfig{
			MaxAttempts: 5,
			BaseDelay:   Duration(2 * time.Second),
			MaxDelay:    Duration(time.Minute),
			MaxJitter:   Duration(500 * time.Millisecond),
		},
		Ledger:    LedgerConfig{Mode: "local", Timeout: Duration(30 * time.Second)},
		RateLimit: RateLimitConfig{RPM: 600, Burst: 100},
		Archive:   ArchiveConfig{Backend: "fs", Dir: "data/bundles"},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			Environment:  "development",
		},
	}
}

// Validate rejects combinations that cannot run.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address is required")
	}

	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database driver %q requires a DSN", c.Database.Driver)
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}

	if c.Batch.MaxSize <= 0 {
		return fmt.Errorf("config: batch max size must be positive")
	}
	if c.Batch.MaxDwell <= 0 {
		return fmt.Errorf("config: batch max dwell must be positive")
	}
	if c.Batch.PollInterval <= 0 {
		return fmt.Errorf("config: batch poll interval must be positive")
	}

	if c.Anchor.MaxAttempts <= 0 {
		return fmt.Errorf("config: anchor max attempts must be positive")
	}
	if c.Anchor.BaseDelay <= 0 || c.Anchor.MaxDelay < c.Anchor.BaseDelay {
		return fmt.Errorf("config: anchor delays must satisfy 0 < base_delay <= max_delay")
	}

	switch c.Ledger.Mode {
	case "local":
	case "http":
		if c.Ledger.URL == "" {
			return fmt.Errorf("config: http ledger mode requires a URL")
		}
	default:
		return fmt.Errorf("config: unknown ledger mode %q", c.Ledger.Mode)
	}

	if c.RateLimit.RPM <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config: rate limit rpm and burst must be positive")
	}

	switch c.Archive.Backend {
	case "", "fs":
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("config: archive backend %q requires a bucket", c.Archive.Backend)
		}
	default:
		return fmt.Errorf("config: unknown archive backend %q", c.Archive.Backend)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("config: telemetry sample rate must be within [0, 1]")
	}

	return nil
}

// Duration wraps time.Duration so YAML accepts "5m" style strings.
type Duration time.Duration

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts either a Go duration string or an integer nanosecond
// count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		var ns int64
		if intErr := value.Decode(&ns); intErr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
		}
		parsed = time.Duration(ns)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
