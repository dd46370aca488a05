// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 4000, cfg.Network.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.Sync.TripInterval())
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryDelay())
	assert.Equal(t, time.Minute, cfg.Sync.ConnectionCheckInterval())
	assert.Equal(t, 3, cfg.Sync.MaxSyncRetryAttempts)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, "station:events", cfg.Events.ChannelPrefix)
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.Station.ID = "st-1"
	valid.Auth.JWTSecret = "secret"
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing station id", func(c *Config) { c.Station.ID = "" }, "station.id"},
		{"missing ws url", func(c *Config) { c.Network.CentralWSURL = "" }, "central_ws_url"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token_ttl"},
		{"bad port", func(c *Config) { c.Network.Port = 70000 }, "port"},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }, "batch_size"},
		{"zero trip interval", func(c *Config) { c.Sync.TripIntervalMs = 0 }, "trip_interval_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoaderPriority(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "station.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
network:
  port: 4100
station:
  id: from-file
  name: File Station
`), 0o644))

	// Legacy flat variable beats the file; the nested form beats both.
	t.Setenv("STATION_ID", "from-legacy-env")
	t.Setenv("STATION__NETWORK__PORT", "4200")

	loader := NewLoader("STATION")
	require.NoError(t, loader.LoadWithDefaults(Defaults(), configFile))

	var cfg Config
	require.NoError(t, loader.Unmarshal("", &cfg))

	assert.Equal(t, "from-legacy-env", cfg.Station.ID)
	assert.Equal(t, 4200, cfg.Network.Port)
	assert.Equal(t, "File Station", cfg.Station.Name)
	assert.Equal(t, "http://localhost:5000", cfg.Network.CentralURL, "untouched keys keep defaults")
}

func TestLoaderMissingFileIsError(t *testing.T) {
	loader := NewLoader("STATION")
	err := loader.LoadWithDefaults(Defaults(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSupervisorFileOverridesIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
station_info:
  station_id: st-gabes
  station_name: Gabes Centrale
  delegation: Gabes Ville
  governorate: Gabes
cin: "11223344"
`), 0o644))

	cfg := Defaults()
	cfg.Station.ID = "st-old"
	require.NoError(t, applySupervisorFile(&cfg, path))

	assert.Equal(t, "st-gabes", cfg.Station.ID)
	assert.Equal(t, "Gabes Centrale", cfg.Station.Name)
	assert.Equal(t, "11223344", cfg.Station.SupervisorCIN)
}

func TestSupervisorFileMissingIsFine(t *testing.T) {
	cfg := Defaults()
	cfg.Station.ID = "st-keep"
	require.NoError(t, applySupervisorFile(&cfg, filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Equal(t, "st-keep", cfg.Station.ID)
}

func TestSupervisorFileMalformedIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	cfg := Defaults()
	assert.Error(t, applySupervisorFile(&cfg, path))
}
