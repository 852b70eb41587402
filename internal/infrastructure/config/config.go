package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Events    EventsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8000,http://127.0.0.1:8000"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// TerminalConfig holds terminal session configuration.
type TerminalConfig struct {
	Shell        string        `envconfig:"TERMINAL_SHELL"`
	Mode         string        `envconfig:"TERMINAL_MODE" default:"auto"`
	HistoryBytes int           `envconfig:"TERMINAL_HISTORY_BYTES" default:"262144"`
	GracePeriod  time.Duration `envconfig:"TERMINAL_GRACE" default:"3s"`
	ViewerQueue  int           `envconfig:"TERMINAL_VIEWER_QUEUE" default:"256"`
	Cols         uint16        `envconfig:"TERMINAL_COLS" default:"80"`
	Rows         uint16        `envconfig:"TERMINAL_ROWS" default:"24"`
	StatePath    string        `envconfig:"TERMINAL_STATE_PATH"`
}

// EventsConfig holds dashboard event channel configuration.
type EventsConfig struct {
	ListInterval time.Duration `envconfig:"EVENTS_LIST_INTERVAL" default:"30s"`
	Queue        int           `envconfig:"EVENTS_QUEUE" default:"64"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Terminal.Mode {
	case "", "auto", "pty", "pipe":
	default:
		return fmt.Errorf("invalid TERMINAL_MODE %q", c.Terminal.Mode)
	}
	if c.Terminal.HistoryBytes <= 0 {
		return fmt.Errorf("TERMINAL_HISTORY_BYTES must be positive, got %d", c.Terminal.HistoryBytes)
	}
	if c.Terminal.ViewerQueue <= 0 {
		return fmt.Errorf("TERMINAL_VIEWER_QUEUE must be positive, got %d", c.Terminal.ViewerQueue)
	}
	if c.Events.ListInterval <= 0 {
		return fmt.Errorf("EVENTS_LIST_INTERVAL must be positive, got %s", c.Events.ListInterval)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:8000", "http://127.0.0.1:8000"},
		},
		Terminal: TerminalConfig{
			Mode:         "auto",
			HistoryBytes: 256 * 1024,
			GracePeriod:  3 * time.Second,
			ViewerQueue:  256,
			Cols:         80,
			Rows:         24,
		},
		Events: EventsConfig{
			ListInterval: 30 * time.Second,
			Queue:        64,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
