// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides the unified configuration loader for the station
// node.
package config

import (
	"fmt"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
}

// Validator can be implemented by config structs to enable validation.
type Validator interface {
	Validate() error
}

// NewLoader creates a new configuration loader.
// envPrefix should be like "STATION" (without trailing delimiter).
// Environment variables use double underscore (__) for nesting:
// STATION__NETWORK__PORT -> network.port
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		k:         koanf.New("."),
		envPrefix: envPrefix + "__",
	}
}

// LoadWithDefaults loads configuration with the following priority (highest
// to lowest):
//  1. Environment variables (STATION__NETWORK__PORT -> network.port)
//  2. Legacy flat environment variables (CENTRAL_SERVER_URL, STATION_ID, ...)
//  3. Config file (YAML)
//  4. Struct defaults
//
// If configPath is specified but the file does not exist, an error is
// returned. If configPath is empty, only defaults and environment variables
// are used.
func (l *Loader) LoadWithDefaults(defaults any, configPath string) error {
	if defaults != nil {
		if err := l.k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
			return fmt.Errorf("failed to load defaults: %w", err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		if err := l.k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Flat env names predate the nested scheme and are still what
	// supervisors provision; they sit between the file and the prefixed
	// variables.
	for name, key := range legacyEnvKeys {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := l.k.Set(key, v); err != nil {
				return fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	// Double underscore (__) for nesting: STATION__NETWORK__PORT -> network.port
	envProvider := env.Provider(l.envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		return key
	})
	if err := l.k.Load(envProvider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	return nil
}

// legacyEnvKeys maps the flat environment variables provisioned on station
// hosts to their nested configuration keys.
var legacyEnvKeys = map[string]string{
	"CENTRAL_SERVER_URL":           "network.central_url",
	"CENTRAL_SERVER_WS_URL":        "network.central_ws_url",
	"API_SECRET":                   "network.api_secret",
	"PORT":                         "network.port",
	"STATION_ID":                   "station.id",
	"STATION_NAME":                 "station.name",
	"GOVERNORATE":                  "station.governorate",
	"DELEGATION":                   "station.delegation",
	"JWT_SECRET":                   "auth.jwt_secret",
	"JWT_EXPIRES_IN":               "auth.token_ttl",
	"SESSION_TIMEOUT_HOURS":        "auth.session_timeout_hours",
	"BATCH_SYNC_SIZE":              "sync.batch_size",
	"TRIP_SYNC_INTERVAL_MS":        "sync.trip_interval_ms",
	"CONNECTION_CHECK_INTERVAL_MS": "sync.connection_check_interval_ms",
	"MAX_SYNC_RETRY_ATTEMPTS":      "sync.max_sync_retry_attempts",
	"SYNC_RETRY_DELAY_MS":          "sync.retry_delay_ms",
}

// Unmarshal unmarshals the loaded configuration into the provided struct.
func (l *Loader) Unmarshal(path string, out any) error {
	return l.k.Unmarshal(path, out)
}

// UnmarshalAndValidate unmarshals the configuration and validates it.
// If out implements Validator, Validate() is called after unmarshaling.
func (l *Loader) UnmarshalAndValidate(path string, out any) error {
	if err := l.k.Unmarshal(path, out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// Set manually sets a configuration value.
func (l *Loader) Set(key string, value any) error {
	return l.k.Set(key, value)
}
