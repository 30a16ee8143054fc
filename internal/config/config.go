// Package config loads and validates chanhub's process configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if the variable is unset
type Config struct {
	// Transport — IP+port takes precedence over the Unix socket when both
	// are set.
	Host           string `env:"HOST" envDefault:"127.0.0.1"`
	Port           int    `env:"PORT" envDefault:"9090"`
	UnixSocketPath string `env:"UNIX_SOCKET_PATH" envDefault:""`

	ReadSize           int    `env:"READ_SIZE" envDefault:"10240"`
	MaxClients         int    `env:"MAX_CLIENTS" envDefault:"512"`
	MessageParserClass string `env:"MESSAGE_PARSER_CLASS" envDefault:"json"`
	Timezone           string `env:"TIMEZONE" envDefault:"UTC"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// MetricsAddr is the bind address for the Prometheus /metrics endpoint.
	// Empty disables the metrics listener.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`

	CPURejectThreshold float64 `env:"CPU_REJECT_THRESHOLD" envDefault:"85.0"`

	RequestRateBurst  int `env:"REQUEST_RATE_BURST" envDefault:"50"`
	RequestRatePerSec int `env:"REQUEST_RATE_PER_SEC" envDefault:"20"`
}

// Load reads configuration from an optional .env file and the process
// environment. Environment variables take precedence over the .env file;
// the .env file takes precedence over struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate enforces range and enum invariants across the configuration.
func (c *Config) Validate() error {
	if c.Host == "" && c.UnixSocketPath == "" {
		return fmt.Errorf("either HOST+PORT or UNIX_SOCKET_PATH must be set")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 0-65535, got %d", c.Port)
	}
	if c.ReadSize < 1 {
		return fmt.Errorf("READ_SIZE must be > 0, got %d", c.ReadSize)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("MAX_CLIENTS must be > 0, got %d", c.MaxClients)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.RequestRateBurst < 1 {
		return fmt.Errorf("REQUEST_RATE_BURST must be > 0, got %d", c.RequestRateBurst)
	}
	if c.RequestRatePerSec < 1 {
		return fmt.Errorf("REQUEST_RATE_PER_SEC must be > 0, got %d", c.RequestRatePerSec)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty; got %q", c.LogFormat)
	}

	return nil
}

// LogConfig emits the resolved configuration as one structured log line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("host", c.Host).
		Int("port", c.Port).
		Str("unix_socket_path", c.UnixSocketPath).
		Int("read_size", c.ReadSize).
		Int("max_clients", c.MaxClients).
		Str("message_parser_class", c.MessageParserClass).
		Str("timezone", c.Timezone).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Str("metrics_addr", c.MetricsAddr).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Int("request_rate_burst", c.RequestRateBurst).
		Int("request_rate_per_sec", c.RequestRatePerSec).
		Msg("configuration loaded")
}
