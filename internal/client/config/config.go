package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
)

// Config holds runtime settings for the client shell.
//
// Units: all intervals are time.Duration values.
type Config struct {
	BackendURL string `default:"http://127.0.0.1:8080"`
	APIKey     string `default:"anon"`
	DBPath     string `default:"balancesync.db"`

	ProbePath     string        `default:"/healthcheck.txt"`
	ProbeTimeout  time.Duration `default:"3s"`
	ProbeInterval time.Duration `default:"30s"`

	SendAttempts  int           `default:"3"`
	SendBaseDelay time.Duration `default:"1s"`

	SyncInterval  time.Duration `default:"1m"`
	FullSyncEvery time.Duration `default:"24h"`
	Realtime      bool          `default:"true"`

	LogLevel string `default:"info"`
	LogFile  string
}

// LoadDefaults populates c with the values from the struct tags.
func (c *Config) LoadDefaults() error {
	return defaults.Set(c)
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BackendURL == "":
		return fmt.Errorf("backend url is required")
	case c.DBPath == "":
		return fmt.Errorf("database path is required")
	case c.SendAttempts < 1:
		return fmt.Errorf("send attempts must be positive, got %d", c.SendAttempts)
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("probe timeout must be positive")
	}
	return nil
}

// Load builds a Config from defaults, then the optional config file, then
// environment variables, then flags. Later sources take precedence.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	if err := cfg.LoadDefaults(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, lookupEnv); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}
