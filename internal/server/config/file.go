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

// fileConfig is the DTO used for JSON and YAML decoding. Absent keys leave
// the current value alone.
type fileConfig struct {
	ListenAddr      *string         `json:"listen_addr" yaml:"listen_addr"`
	DatabaseDSN     *string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey       *string         `json:"secret_key" yaml:"secret_key"`
	APIKey          *string         `json:"api_key" yaml:"api_key"`
	AccessTokenTTL  *timex.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL *timex.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	LogLevel        *string         `json:"log_level" yaml:"log_level"`
}

func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for dst, v := range map[*string]*string{
		&cfg.ListenAddr:  fc.ListenAddr,
		&cfg.DatabaseDSN: fc.DatabaseDSN,
		&cfg.SecretKey:   fc.SecretKey,
		&cfg.APIKey:      fc.APIKey,
		&cfg.LogLevel:    fc.LogLevel,
	} {
		if v != nil {
			*dst = *v
		}
	}
	if fc.AccessTokenTTL != nil {
		cfg.AccessTokenTTL = fc.AccessTokenTTL.Duration
	}
	if fc.RefreshTokenTTL != nil {
		cfg.RefreshTokenTTL = fc.RefreshTokenTTL.Duration
	}
	return nil
}
