package config

import (
	"fmt"
	"net"
	"time"
)

// EmulatorConfig configures the generator emulator.
type EmulatorConfig struct {
	Listen        string        `yaml:"listen"`
	AllowedCIDRs  []string      `yaml:"allowedCidrs"`
	MaxConns      int           `yaml:"maxConns"`
	ResponseDelay time.Duration `yaml:"responseDelay"`
	QueueSize     int           `yaml:"queueSize"`
	EchoWrites    bool          `yaml:"echoWrites"`
	Log           LogConfig     `yaml:"log"`
}

// DefaultEmulator returns the emulator baseline.
func DefaultEmulator() *EmulatorConfig {
	return &EmulatorConfig{
		Listen:        "127.0.0.1:9080",
		AllowedCIDRs:  []string{"127.0.0.0/8"},
		MaxConns:      4,
		ResponseDelay: 20 * time.Millisecond,
		QueueSize:     100,
		EchoWrites:    false,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadEmulator merges DefaultEmulator() + optional YAML file + PSGEMU_*
// environment overrides, then validates.
func LoadEmulator(path string) (*EmulatorConfig, error) {
	cfg := DefaultEmulator()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	e := envReader{prefix: "PSGEMU_"}
	e.str("LISTEN", &cfg.Listen)
	e.int("MAX_CONNS", &cfg.MaxConns)
	e.duration("RESPONSE_DELAY", &cfg.ResponseDelay)
	e.int("QUEUE_SIZE", &cfg.QueueSize)
	e.bool("ECHO_WRITES", &cfg.EchoWrites)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	if err := e.err(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateEmulator(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ValidateEmulator checks cfg.
func ValidateEmulator(cfg *EmulatorConfig) error {
	if cfg.Listen == "" {
		return fmt.Errorf("%w: listen address required", ErrInvalidConfig)
	}
	for _, cidr := range cfg.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("%w: allowed cidr %q: %v", ErrInvalidConfig, cidr, err)
		}
	}
	if cfg.MaxConns <= 0 {
		return fmt.Errorf("%w: maxConns must be positive, got %d", ErrInvalidConfig, cfg.MaxConns)
	}
	if cfg.QueueSize <= 0 {
		return fmt.Errorf("%w: queueSize must be positive, got %d", ErrInvalidConfig, cfg.QueueSize)
	}
	if cfg.ResponseDelay < 0 {
		return fmt.Errorf("%w: responseDelay must be non-negative", ErrInvalidConfig)
	}
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	return nil
}
