package config

import (
	"fmt"
	"strconv"
	"time"
)

const envPrefix = "BT_"

// parseEnv overlays cfg with BT_* variables.
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("BACKEND_URL", &cfg.BackendURL)
	str("API_KEY", &cfg.APIKey)
	str("DB_PATH", &cfg.DBPath)
	str("PROBE_PATH", &cfg.ProbePath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FILE", &cfg.LogFile)

	for name, dst := range map[string]*time.Duration{
		"PROBE_TIMEOUT":   &cfg.ProbeTimeout,
		"PROBE_INTERVAL":  &cfg.ProbeInterval,
		"SEND_BASE_DELAY": &cfg.SendBaseDelay,
		"SYNC_INTERVAL":   &cfg.SyncInterval,
		"FULL_SYNC_EVERY": &cfg.FullSyncEvery,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(envPrefix + "SEND_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSEND_ATTEMPTS: %w", envPrefix, err)
		}
		cfg.SendAttempts = n
	}
	if v, ok := lookup(envPrefix + "REALTIME"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREALTIME: %w", envPrefix, err)
		}
		cfg.Realtime = b
	}
	return nil
}
