package config

import "time"

// Config is the controller service configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Timing    TimingConfig    `yaml:"timing"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Audit     AuditConfig     `yaml:"audit"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransportConfig selects and addresses the link to the generator.
type TransportConfig struct {
	Kind             string        `yaml:"kind"` // ble | serial | tcp
	Address          string        `yaml:"address"`
	BaudRate         int           `yaml:"baudRate"`
	ScanTimeout      time.Duration `yaml:"scanTimeout"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	AutoConnect      bool          `yaml:"autoConnect"`
	RefreshOnConnect bool          `yaml:"refreshOnConnect"`
}

// TimingConfig holds engine and event stream timings.
type TimingConfig struct {
	SettleDelay       time.Duration `yaml:"settleDelay"`
	QueuePoll         time.Duration `yaml:"queuePoll"`
	RefreshGap        time.Duration `yaml:"refreshGap"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`
	EventBufferSize   int           `yaml:"eventBufferSize"`
	ClientBufferSize  int           `yaml:"clientBufferSize"`
}

// HTTPConfig configures the control API listener.
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Algorithm           string        `yaml:"algorithm"` // HS256 | RS256
	Secret              string        `yaml:"secret"`
	PublicKeyFile       string        `yaml:"publicKeyFile"`
	JWKSURL             string        `yaml:"jwksUrl"`
	JWKSRefreshInterval time.Duration `yaml:"jwksRefreshInterval"`
	JWKSCacheTimeout    time.Duration `yaml:"jwksCacheTimeout"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json | console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// AuditConfig configures the frame and action audit trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// RedisConfig configures the state publisher.
type RedisConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	KeyPrefix     string        `yaml:"keyPrefix"`
	HistoryLength int64         `yaml:"historyLength"`
	Timeout       time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:             "ble",
			Address:          "5C:53:10:DA:D2:DD",
			BaudRate:         9600,
			ScanTimeout:      10 * time.Second,
			DialTimeout:      5 * time.Second,
			AutoConnect:      false,
			RefreshOnConnect: true,
		},
		Timing: TimingConfig{
			SettleDelay:       100 * time.Millisecond,
			QueuePoll:         100 * time.Millisecond,
			RefreshGap:        200 * time.Millisecond,
			WriteTimeout:      2 * time.Second,
			ConnectTimeout:    20 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
			EventBufferSize:   256,
			ClientBufferSize:  64,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // streams stay open
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:             false,
			Algorithm:           "HS256",
			JWKSRefreshInterval: 5 * time.Minute,
			JWKSCacheTimeout:    time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "psg-audit.jsonl",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "localhost:6379",
			KeyPrefix:     "psg",
			HistoryLength: 1000,
			Timeout:       2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
