package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks every section of cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}

	if err := validateTransport(&cfg.Transport); err != nil {
		return fmt.Errorf("transport validation failed: %w", err)
	}
	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if err := validateHTTP(&cfg.HTTP); err != nil {
		return fmt.Errorf("http validation failed: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return fmt.Errorf("audit validation failed: %w: path required", ErrInvalidConfig)
	}
	if err := validateRedis(&cfg.Redis); err != nil {
		return fmt.Errorf("redis validation failed: %w", err)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics validation failed: %w: path must start with /, got %q", ErrInvalidConfig, cfg.Metrics.Path)
	}

	return nil
}

func validateTransport(t *TransportConfig) error {
	switch t.Kind {
	case "ble", "serial", "tcp":
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, t.Kind)
	}
	if t.AutoConnect && t.Address == "" {
		return fmt.Errorf("%w: autoConnect needs an address", ErrInvalidConfig)
	}
	if t.Kind == "serial" && t.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidConfig, t.BaudRate)
	}
	if t.ScanTimeout < 0 || t.DialTimeout < 0 {
		return fmt.Errorf("%w: timeouts must be non-negative", ErrInvalidConfig)
	}
	return nil
}

func validateTiming(t *TimingConfig) error {
	if t.SettleDelay < 0 || t.RefreshGap < 0 {
		return fmt.Errorf("%w: settle delay and refresh gap must be non-negative", ErrInvalidConfig)
	}
	if t.QueuePoll <= 0 {
		return fmt.Errorf("%w: queue poll must be positive, got %v", ErrInvalidConfig, t.QueuePoll)
	}
	if t.WriteTimeout <= 0 || t.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: write and connect timeouts must be positive", ErrInvalidConfig)
	}
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive, got %v", ErrInvalidConfig, t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 || t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("%w: heartbeat jitter %v exceeds 50%% of interval %v", ErrInvalidConfig, t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.EventBufferSize <= 0 || t.ClientBufferSize <= 0 {
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	return nil
}

func validateHTTP(h *HTTPConfig) error {
	if !h.Enabled {
		return nil
	}
	if h.Addr == "" {
		return fmt.Errorf("%w: addr required", ErrInvalidConfig)
	}
	if h.ReadTimeout < 0 || h.WriteTimeout < 0 || h.IdleTimeout < 0 || h.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: timeouts must be non-negative", ErrInvalidConfig)
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.Secret == "" {
			return fmt.Errorf("%w: HS256 requires a secret", ErrInvalidConfig)
		}
	case "RS256":
		if a.PublicKeyFile == "" && a.JWKSURL == "" {
			return fmt.Errorf("%w: RS256 requires publicKeyFile or jwksUrl", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, a.Algorithm)
	}
	return nil
}

func validateLog(l *LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidConfig, l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, l.Format)
	}
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("%w: rotation limits must be non-negative", ErrInvalidConfig)
	}
	return nil
}

func validateRedis(r *RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	if r.Addr == "" {
		return fmt.Errorf("%w: addr required", ErrInvalidConfig)
	}
	if r.KeyPrefix == "" {
		return fmt.Errorf("%w: key prefix required", ErrInvalidConfig)
	}
	if r.HistoryLength <= 0 {
		return fmt.Errorf("%w: history length must be positive, got %d", ErrInvalidConfig, r.HistoryLength)
	}
	return nil
}
