package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Load merges Default() + optional YAML file + PSG_* environment overrides,
// then validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML document at filename onto cfg. Keys absent
// from the file keep their current value.
func loadFromFile(cfg interface{}, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies PSG_* environment variables to cfg.
func applyEnvOverrides(cfg *Config) error {
	e := envReader{prefix: "PSG_"}

	e.str("TRANSPORT_KIND", &cfg.Transport.Kind)
	e.str("TRANSPORT_ADDRESS", &cfg.Transport.Address)
	e.int("TRANSPORT_BAUD_RATE", &cfg.Transport.BaudRate)
	e.duration("TRANSPORT_SCAN_TIMEOUT", &cfg.Transport.ScanTimeout)
	e.duration("TRANSPORT_DIAL_TIMEOUT", &cfg.Transport.DialTimeout)
	e.bool("TRANSPORT_AUTO_CONNECT", &cfg.Transport.AutoConnect)
	e.bool("TRANSPORT_REFRESH_ON_CONNECT", &cfg.Transport.RefreshOnConnect)

	e.duration("TIMING_SETTLE_DELAY", &cfg.Timing.SettleDelay)
	e.duration("TIMING_QUEUE_POLL", &cfg.Timing.QueuePoll)
	e.duration("TIMING_REFRESH_GAP", &cfg.Timing.RefreshGap)
	e.duration("TIMING_WRITE_TIMEOUT", &cfg.Timing.WriteTimeout)
	e.duration("TIMING_CONNECT_TIMEOUT", &cfg.Timing.ConnectTimeout)
	e.duration("TIMING_HEARTBEAT_INTERVAL", &cfg.Timing.HeartbeatInterval)
	e.duration("TIMING_HEARTBEAT_JITTER", &cfg.Timing.HeartbeatJitter)
	e.int("TIMING_EVENT_BUFFER_SIZE", &cfg.Timing.EventBufferSize)
	e.int("TIMING_CLIENT_BUFFER_SIZE", &cfg.Timing.ClientBufferSize)

	e.bool("HTTP_ENABLED", &cfg.HTTP.Enabled)
	e.str("ADDR", &cfg.HTTP.Addr)
	e.str("HTTP_ADDR", &cfg.HTTP.Addr)

	e.bool("AUTH_ENABLED", &cfg.Auth.Enabled)
	e.str("AUTH_ALGORITHM", &cfg.Auth.Algorithm)
	e.str("AUTH_SECRET", &cfg.Auth.Secret)
	e.str("AUTH_PUBLIC_KEY_FILE", &cfg.Auth.PublicKeyFile)
	e.str("AUTH_JWKS_URL", &cfg.Auth.JWKSURL)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	e.str("LOG_FILE", &cfg.Log.File)

	e.bool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	e.str("AUDIT_PATH", &cfg.Audit.Path)

	e.bool("REDIS_ENABLED", &cfg.Redis.Enabled)
	e.str("REDIS_ADDR", &cfg.Redis.Addr)
	e.str("REDIS_PASSWORD", &cfg.Redis.Password)
	e.int("REDIS_DB", &cfg.Redis.DB)
	e.str("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	e.bool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	e.str("METRICS_PATH", &cfg.Metrics.Path)

	return e.err()
}

// envReader reads prefixed variables and collects parse failures.
type envReader struct {
	prefix string
	errs   []string
}

func (e *envReader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(e.prefix + key)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

func (e *envReader) fail(key, val string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s%s=%q: %v", e.prefix, key, val, err))
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.lookup(key); ok {
		*dst = val
	}
}

func (e *envReader) int(key string, dst *int) {
	if val, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if val, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if val, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment: %s", strings.Join(e.errs, "; "))
}
