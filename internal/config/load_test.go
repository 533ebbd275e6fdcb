package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "psg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Timing.SettleDelay != 100*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 100ms", cfg.Timing.SettleDelay)
	}
	if cfg.Timing.QueuePoll != 100*time.Millisecond {
		t.Errorf("QueuePoll = %v, want 100ms", cfg.Timing.QueuePoll)
	}
	if !cfg.Transport.RefreshOnConnect {
		t.Error("RefreshOnConnect = false, want true")
	}
	if cfg.Transport.Address != "5C:53:10:DA:D2:DD" {
		t.Errorf("Address = %q, want the JDY-31 default", cfg.Transport.Address)
	}
	if cfg.Timing.EventBufferSize != 256 {
		t.Errorf("EventBufferSize = %d, want 256", cfg.Timing.EventBufferSize)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	path := writeFile(t, `
transport:
  kind: tcp
  address: 127.0.0.1:9080
  autoConnect: true
timing:
  settleDelay: 250ms
redis:
  enabled: true
  addr: redis:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Transport.Kind != "tcp" {
		t.Errorf("Kind = %q, want tcp", cfg.Transport.Kind)
	}
	if !cfg.Transport.AutoConnect {
		t.Error("AutoConnect = false, want true")
	}
	if cfg.Timing.SettleDelay != 250*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 250ms", cfg.Timing.SettleDelay)
	}
	// untouched keys keep defaults
	if cfg.Timing.QueuePoll != 100*time.Millisecond {
		t.Errorf("QueuePoll = %v, want 100ms", cfg.Timing.QueuePoll)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.KeyPrefix != "psg" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "transport:\n  kindd: tcp\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a misspelled key")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() accepted a missing file")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "timing:\n  settleDelay: 250ms\n")
	t.Setenv("PSG_TIMING_SETTLE_DELAY", "50ms")
	t.Setenv("PSG_TRANSPORT_KIND", "serial")
	t.Setenv("PSG_TRANSPORT_ADDRESS", "/dev/rfcomm0")
	t.Setenv("PSG_TRANSPORT_REFRESH_ON_CONNECT", "false")
	t.Setenv("PSG_ADDR", ":9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Timing.SettleDelay != 50*time.Millisecond {
		t.Errorf("SettleDelay = %v, want env value 50ms", cfg.Timing.SettleDelay)
	}
	if cfg.Transport.Kind != "serial" || cfg.Transport.Address != "/dev/rfcomm0" {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Transport.RefreshOnConnect {
		t.Error("RefreshOnConnect = true, want false")
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q, want :9090", cfg.HTTP.Addr)
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("PSG_TIMING_QUEUE_POLL", "soon")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() accepted an unparseable duration")
	}
	if !strings.Contains(err.Error(), "PSG_TIMING_QUEUE_POLL") {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport.Kind = "usb" }},
		{"auto connect without address", func(c *Config) { c.Transport.AutoConnect = true; c.Transport.Address = "" }},
		{"serial without baud", func(c *Config) { c.Transport.Kind = "serial"; c.Transport.BaudRate = 0 }},
		{"negative settle", func(c *Config) { c.Timing.SettleDelay = -time.Millisecond }},
		{"zero poll", func(c *Config) { c.Timing.QueuePoll = 0 }},
		{"jitter too large", func(c *Config) { c.Timing.HeartbeatJitter = 10 * time.Second }},
		{"zero event buffer", func(c *Config) { c.Timing.EventBufferSize = 0 }},
		{"hs256 without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"rs256 without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "RS256" }},
		{"unknown algorithm", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "none" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"audit without path", func(c *Config) { c.Audit.Path = "" }},
		{"redis without history", func(c *Config) { c.Redis.Enabled = true; c.Redis.HistoryLength = 0 }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if err := Validate(Default()); err != nil {
		t.Errorf("Validate(Default()) = %v, want nil", err)
	}
	if err := Validate(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate(nil) = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadEmulator(t *testing.T) {
	path := writeFile(t, `
listen: 0.0.0.0:7000
allowedCidrs: ["10.0.0.0/8"]
responseDelay: 5ms
`)
	t.Setenv("PSGEMU_MAX_CONNS", "2")

	cfg, err := LoadEmulator(path)
	if err != nil {
		t.Fatalf("LoadEmulator() failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:7000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.MaxConns != 2 {
		t.Errorf("MaxConns = %d, want 2", cfg.MaxConns)
	}
	if cfg.ResponseDelay != 5*time.Millisecond {
		t.Errorf("ResponseDelay = %v, want 5ms", cfg.ResponseDelay)
	}
	if len(cfg.AllowedCIDRs) != 1 || cfg.AllowedCIDRs[0] != "10.0.0.0/8" {
		t.Errorf("AllowedCIDRs = %v", cfg.AllowedCIDRs)
	}
}

func TestValidateEmulator(t *testing.T) {
	cfg := DefaultEmulator()
	cfg.AllowedCIDRs = []string{"not-a-cidr"}
	if err := ValidateEmulator(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ValidateEmulator() = %v, want ErrInvalidConfig", err)
	}

	cfg = DefaultEmulator()
	cfg.MaxConns = 0
	if err := ValidateEmulator(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ValidateEmulator() = %v, want ErrInvalidConfig", err)
	}
}
