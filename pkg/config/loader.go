package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable pointing at the YAML file.
const EnvConfigFile = "AUDITTRAIL_CONFIG"

// Load builds the configuration: defaults, then the YAML file at path (or
// $AUDITTRAIL_CONFIG when path is empty), then environment overrides. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	e := &envReader{}

	e.str("AUDITTRAIL_LISTEN_ADDR", &c.ListenAddr)
	e.str("AUDITTRAIL_LOG_LEVEL", &c.LogLevel)

	e.str("AUDITTRAIL_DB_DRIVER", &c.Database.Driver)
	e.str("AUDITTRAIL_DB_DSN", &c.Database.DSN)

	e.num("AUDITTRAIL_BATCH_MAX_SIZE", &c.Batch.MaxSize)
	e.dur("AUDITTRAIL_BATCH_MAX_DWELL", &c.Batch.MaxDwell)
	e.dur("AUDITTRAIL_BATCH_POLL_INTERVAL", &c.Batch.PollInterval)

	e.num("AUDITTRAIL_ANCHOR_MAX_ATTEMPTS", &c.Anchor.MaxAttempts)
	e.dur("AUDITTRAIL_ANCHOR_BASE_DELAY", &c.Anchor.BaseDelay)
	e.dur("AUDITTRAIL_ANCHOR_MAX_DELAY", &c.Anchor.MaxDelay)
	e.dur("AUDITTRAIL_ANCHOR_MAX_JITTER", &c.Anchor.MaxJitter)

	e.str("AUDITTRAIL_LEDGER_MODE", &c.Ledger.Mode)
	e.str("AUDITTRAIL_LEDGER_URL", &c.Ledger.URL)
	e.str("AUDITTRAIL_LEDGER_TOKEN", &c.Ledger.Token)
	e.dur("AUDITTRAIL_LEDGER_TIMEOUT", &c.Ledger.Timeout)

	e.str("AUDITTRAIL_AUTH_SECRET", &c.Auth.Secret)

	e.num("AUDITTRAIL_RATE_LIMIT_RPM", &c.RateLimit.RPM)
	e.num("AUDITTRAIL_RATE_LIMIT_BURST", &c.RateLimit.Burst)
	e.str("AUDITTRAIL_REDIS_ADDR", &c.RateLimit.RedisAddr)
	e.str("AUDITTRAIL_REDIS_PASSWORD", &c.RateLimit.RedisPassword)
	e.num("AUDITTRAIL_REDIS_DB", &c.RateLimit.RedisDB)

	e.str("AUDITTRAIL_ARCHIVE_BACKEND", &c.Archive.Backend)
	e.str("AUDITTRAIL_ARCHIVE_DIR", &c.Archive.Dir)
	e.str("AUDITTRAIL_ARCHIVE_BUCKET", &c.Archive.Bucket)
	e.str("AUDITTRAIL_ARCHIVE_REGION", &c.Archive.Region)
	e.str("AUDITTRAIL_ARCHIVE_ENDPOINT", &c.Archive.Endpoint)
	e.str("AUDITTRAIL_ARCHIVE_PREFIX", &c.Archive.Prefix)

	e.flag("AUDITTRAIL_OTLP_ENABLED", &c.Telemetry.Enabled)
	e.str("AUDITTRAIL_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	e.float("AUDITTRAIL_OTLP_SAMPLE_RATE", &c.Telemetry.SampleRate)
	e.flag("AUDITTRAIL_OTLP_INSECURE", &c.Telemetry.Insecure)
	e.str("AUDITTRAIL_ENVIRONMENT", &c.Telemetry.Environment)

	e.list("AUDITTRAIL_CORS_ORIGINS", &c.CORS.AllowedOrigins)

	return e.err
}

// envReader applies environment overrides and remembers the first value it
// could not parse. Unset or empty variables leave the destination alone.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: invalid value %q for %s: %w", v, key, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) num(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) flag(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) dur(key string, dst *Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = Duration(d)
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*dst = out
}
