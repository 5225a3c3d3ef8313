package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/balancesync/internal/flagx"
	"github.com/dmitrijs2005/balancesync/internal/timex"
)

// fileConfig is a DTO used exclusively for file decoding. Pointer fields
// distinguish "absent" from zero values so a partial file only overrides
// what it names.
type fileConfig struct {
	BackendURL    *string         `json:"backend_url" yaml:"backend_url"`
	APIKey        *string         `json:"api_key" yaml:"api_key"`
	DBPath        *string         `json:"db_path" yaml:"db_path"`
	ProbePath     *string         `json:"probe_path" yaml:"probe_path"`
	ProbeTimeout  *timex.Duration `json:"probe_timeout" yaml:"probe_timeout"`
	ProbeInterval *timex.Duration `json:"probe_interval" yaml:"probe_interval"`
	SendAttempts  *int            `json:"send_attempts" yaml:"send_attempts"`
	SendBaseDelay *timex.Duration `json:"send_base_delay" yaml:"send_base_delay"`
	SyncInterval  *timex.Duration `json:"sync_interval" yaml:"sync_interval"`
	FullSyncEvery *timex.Duration `json:"full_sync_every" yaml:"full_sync_every"`
	Realtime      *bool           `json:"realtime" yaml:"realtime"`
	LogLevel      *string         `json:"log_level" yaml:"log_level"`
	LogFile       *string         `json:"log_file" yaml:"log_file"`
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	default:
		err = json.Unmarshal(data, out)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// parseFile overlays cfg with the file named by -c / -config, if any.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	var fc fileConfig
	if err := decodeFile(path, &fc); err != nil {
		return err
	}

	setString(&cfg.BackendURL, fc.BackendURL)
	setString(&cfg.APIKey, fc.APIKey)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.ProbePath, fc.ProbePath)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFile, fc.LogFile)
	if fc.ProbeTimeout != nil {
		cfg.ProbeTimeout = fc.ProbeTimeout.Duration
	}
	if fc.ProbeInterval != nil {
		cfg.ProbeInterval = fc.ProbeInterval.Duration
	}
	if fc.SendBaseDelay != nil {
		cfg.SendBaseDelay = fc.SendBaseDelay.Duration
	}
	if fc.SyncInterval != nil {
		cfg.SyncInterval = fc.SyncInterval.Duration
	}
	if fc.FullSyncEvery != nil {
		cfg.FullSyncEvery = fc.FullSyncEvery.Duration
	}
	if fc.SendAttempts != nil {
		cfg.SendAttempts = *fc.SendAttempts
	}
	if fc.Realtime != nil {
		cfg.Realtime = *fc.Realtime
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
