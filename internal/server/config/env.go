package config

import (
	"fmt"
	"time"
)

func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	for name, dst := range map[string]*string{
		"BT_LISTEN_ADDR":  &cfg.ListenAddr,
		"BT_DATABASE_DSN": &cfg.DatabaseDSN,
		"BT_SECRET_KEY":   &cfg.SecretKey,
		"BT_API_KEY":      &cfg.APIKey,
		"BT_LOG_LEVEL":    &cfg.LogLevel,
	} {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	for name, dst := range map[string]*time.Duration{
		"BT_ACCESS_TOKEN_TTL":  &cfg.AccessTokenTTL,
		"BT_REFRESH_TOKEN_TTL": &cfg.RefreshTokenTTL,
	} {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}
