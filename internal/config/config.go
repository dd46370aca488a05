// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/teskerti/station-node/internal/logging"
)

// Config is the top-level configuration for the station node.
type Config struct {
	// Network defines the uplink to the central server and the local port.
	Network NetworkConfig `koanf:"network"`
	// Station is the identity of this station. Overridable by the
	// supervisor config file when present.
	Station StationConfig `koanf:"station"`
	// Auth defines token signing and session policy.
	Auth AuthConfig `koanf:"auth"`
	// Sync defines reconciliation pacing.
	Sync SyncConfig `koanf:"sync"`
	// Events defines the optional operator fan-out sink.
	Events EventsConfig `koanf:"events"`
	// Database is the sqlite file path.
	Database DatabaseConfig `koanf:"database"`
	// Logging defines logging settings.
	Logging LoggingConfig `koanf:"logging"`
}

// NetworkConfig defines the uplink endpoints.
type NetworkConfig struct {
	CentralURL   string `koanf:"central_url"`
	CentralWSURL string `koanf:"central_ws_url"`
	APISecret    string `koanf:"api_secret"`
	Port         int    `koanf:"port"`
}

// StationConfig is the station identity, immutable after boot unless the
// supervisor file refreshes it.
type StationConfig struct {
	ID          string `koanf:"id"`
	Name        string `koanf:"name"`
	Delegation  string `koanf:"delegation"`
	Governorate string `koanf:"governorate"`
	// SupervisorCIN comes from the supervisor config file only.
	SupervisorCIN string `koanf:"supervisor_cin"`
}

// AuthConfig defines token and session policy. TokenTTL governs locally
// issued tokens; configuration wins over any other expiry convention.
type AuthConfig struct {
	JWTSecret           string        `koanf:"jwt_secret"`
	TokenTTL            time.Duration `koanf:"token_ttl"`
	SessionTimeoutHours int           `koanf:"session_timeout_hours"`
}

// SyncConfig defines reconciliation pacing.
type SyncConfig struct {
	BatchSize                 int `koanf:"batch_size"`
	TripIntervalMs            int `koanf:"trip_interval_ms"`
	ConnectionCheckIntervalMs int `koanf:"connection_check_interval_ms"`
	MaxSyncRetryAttempts      int `koanf:"max_sync_retry_attempts"`
	RetryDelayMs              int `koanf:"retry_delay_ms"`
}

// TripInterval returns the outbound trip drain period.
func (c SyncConfig) TripInterval() time.Duration {
	return time.Duration(c.TripIntervalMs) * time.Millisecond
}

// RetryDelay returns the pause between outbound retry attempts.
func (c SyncConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ConnectionCheckInterval returns the uplink reachability test period.
func (c SyncConfig) ConnectionCheckInterval() time.Duration {
	return time.Duration(c.ConnectionCheckIntervalMs) * time.Millisecond
}

// EventsConfig defines the Redis operator fan-out sink. Disabled when the
// address is empty; the core emits events either way.
type EventsConfig struct {
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	ChannelPrefix string `koanf:"channel_prefix"`
	BufferSize    int    `koanf:"buffer_size"`
}

// DatabaseConfig is the sqlite location.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}

// ToLoggingConfig converts to the logging library config.
func (c LoggingConfig) ToLoggingConfig() logging.Config {
	return logging.Config{Level: c.Level, Format: c.Format, AddSource: c.AddSource}
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{
			CentralURL:   "http://localhost:5000",
			CentralWSURL: "ws://localhost:5000/ws",
			Port:         4000,
		},
		Auth: AuthConfig{
			TokenTTL:            24 * time.Hour,
			SessionTimeoutHours: 24,
		},
		Sync: SyncConfig{
			BatchSize:                 50,
			TripIntervalMs:            30_000,
			ConnectionCheckIntervalMs: 60_000,
			MaxSyncRetryAttempts:      3,
			RetryDelayMs:              5_000,
		},
		Events: EventsConfig{
			ChannelPrefix: "station:events",
			BufferSize:    256,
		},
		Database: DatabaseConfig{Path: "station.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate checks the loaded configuration. Invalid configuration is fatal
// at boot.
func (c *Config) Validate() error {
	var errs []error

	if c.Station.ID == "" {
		errs = append(errs, errors.New("station.id is required"))
	}
	if c.Network.CentralWSURL == "" {
		errs = append(errs, errors.New("network.central_ws_url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL))
	}
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		errs = append(errs, fmt.Errorf("network.port out of range: %d", c.Network.Port))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.TripIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("sync.trip_interval_ms must be positive, got %d", c.Sync.TripIntervalMs))
	}

	return errors.Join(errs...)
}

// Load reads the full configuration: struct defaults, then the YAML file at
// configPath (optional), then environment variables, then the supervisor
// config file override for station identity.
func Load(configPath string) (*Config, error) {
	loader := NewLoader("STATION")
	if err := loader.LoadWithDefaults(Defaults(), configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applySupervisorFile(&cfg, supervisorConfigPath()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
