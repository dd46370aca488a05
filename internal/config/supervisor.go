// Copyright 2025 The Teskerti Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// supervisorFile is the on-disk shape written by the provisioning tool when
// a supervisor registers the station.
type supervisorFile struct {
	StationInfo struct {
		StationID   string `yaml:"station_id"`
		StationName string `yaml:"station_name"`
		Delegation  string `yaml:"delegation"`
		Governorate string `yaml:"governorate"`
	} `yaml:"station_info"`
	CIN string `yaml:"cin"`
}

// supervisorConfigPath returns the per-OS well-known location of the
// supervisor config file.
func supervisorConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "teskerti", "station.yaml")
	case "darwin":
		return "/Library/Application Support/teskerti/station.yaml"
	default:
		return "/etc/teskerti/station.yaml"
	}
}

// applySupervisorFile overrides the station identity from the supervisor
// config file when it exists. A missing file is not an error; an unreadable
// or malformed one is, because booting with half an identity is worse than
// not booting.
func applySupervisorFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read supervisor config %s: %w", path, err)
	}

	var sf supervisorFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse supervisor config %s: %w", path, err)
	}

	if sf.StationInfo.StationID != "" {
		cfg.Station.ID = sf.StationInfo.StationID
	}
	if sf.StationInfo.StationName != "" {
		cfg.Station.Name = sf.StationInfo.StationName
	}
	if sf.StationInfo.Delegation != "" {
		cfg.Station.Delegation = sf.StationInfo.Delegation
	}
	if sf.StationInfo.Governorate != "" {
		cfg.Station.Governorate = sf.StationInfo.Governorate
	}
	if sf.CIN != "" {
		cfg.Station.SupervisorCIN = sf.CIN
	}
	return nil
}
