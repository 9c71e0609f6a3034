package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Addr      string `env:"WS_ADDR" envDefault:":8080"`
	StaticDir string `env:"WS_STATIC_DIR" envDefault:"static"`

	// Room lifecycle tunables (spec C7)
	MaxHistorySize   int           `env:"WS_MAX_HISTORY_SIZE" envDefault:"100"`
	RemoveAfter      time.Duration `env:"WS_REMOVE_AFTER" envDefault:"60s"`
	WebsocketTimeout time.Duration `env:"WS_TIMEOUT" envDefault:"5s"`

	// Capacity. 0 means auto-detect from the container's cgroup memory
	// limit at startup (see calculateMaxConnections in cgroup.go).
	MaxConnections int `env:"WS_MAX_CONNECTIONS" envDefault:"5000"`

	// Per-connection message rate limiting
	MessageRatePerSec float64 `env:"WS_MESSAGE_RATE_PER_SEC" envDefault:"20"`
	MessageRateBurst  int     `env:"WS_MESSAGE_RATE_BURST" envDefault:"40"`

	// Per-IP connection-attempt rate limiting
	ConnectRatePerSec float64 `env:"WS_CONNECT_RATE_PER_SEC" envDefault:"5"`
	ConnectRateBurst  int     `env:"WS_CONNECT_RATE_BURST" envDefault:"10"`

	// CPU safety threshold (host CPU percent as sampled by the system monitor);
	// above this, new connections are rejected.
	CPURejectThreshold float64 `env:"WS_CPU_REJECT_THRESHOLD" envDefault:"90.0"`

	// Monitoring
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`

	// CORS
	CORSAllowedOrigins []string `env:"WS_CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from a .env file and the environment.
// Priority: ENV vars > .env file > defaults.
//
// The logger parameter is optional; pass nil to fall back to stdout during
// the bootstrap window before structured logging is wired up.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		} else {
			fmt.Println("info: no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.MaxHistorySize < 1 {
		return fmt.Errorf("WS_MAX_HISTORY_SIZE must be > 0, got %d", c.MaxHistorySize)
	}
	if c.RemoveAfter < 0 {
		return fmt.Errorf("WS_REMOVE_AFTER must be >= 0, got %s", c.RemoveAfter)
	}
	if c.WebsocketTimeout <= 0 {
		return fmt.Errorf("WS_TIMEOUT must be > 0, got %s", c.WebsocketTimeout)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be >= 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold <= 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("WS_CPU_REJECT_THRESHOLD must be > 0 and <= 100, got %.1f", c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Print logs configuration for debugging in a human-readable format.
// For production, prefer LogConfig which emits structured fields.
func (c *Config) Print() {
	fmt.Println("=== Server Configuration ===")
	fmt.Printf("Environment:       %s\n", c.Environment)
	fmt.Printf("Address:           %s\n", c.Addr)
	fmt.Printf("Static dir:        %s\n", c.StaticDir)
	fmt.Println("\n=== Room Lifecycle ===")
	fmt.Printf("Max history size:  %d\n", c.MaxHistorySize)
	fmt.Printf("Remove after:      %s\n", c.RemoveAfter)
	fmt.Printf("Send timeout:      %s\n", c.WebsocketTimeout)
	fmt.Println("\n=== Capacity & Rate Limits ===")
	fmt.Printf("Max connections:   %d\n", c.MaxConnections)
	fmt.Printf("Message rate:      %.1f/s (burst %d)\n", c.MessageRatePerSec, c.MessageRateBurst)
	fmt.Printf("Connect rate:      %.1f/s (burst %d)\n", c.ConnectRatePerSec, c.ConnectRateBurst)
	fmt.Printf("CPU reject thresh: %.1f%%\n", c.CPURejectThreshold)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:             %s\n", c.LogLevel)
	fmt.Printf("Format:            %s\n", c.LogFormat)
	fmt.Println("=============================")
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Int("max_history_size", c.MaxHistorySize).
		Dur("remove_after", c.RemoveAfter).
		Dur("websocket_timeout", c.WebsocketTimeout).
		Int("max_connections", c.MaxConnections).
		Float64("message_rate_per_sec", c.MessageRatePerSec).
		Float64("connect_rate_per_sec", c.ConnectRatePerSec).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Dur("metrics_interval", c.MetricsInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("server configuration loaded")
}
