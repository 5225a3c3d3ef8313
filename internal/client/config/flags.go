package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-u string   backend base URL
//	-k string   API key
//	-d string   local database path
//	-i int      probe interval in seconds
//	-l string   log level
//
// args are filtered with flagx.FilterArgs first, so flags owned by other
// components do not cause parse errors.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-u", "-k", "-d", "-i", "-l"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BackendURL, "u", cfg.BackendURL, "backend base URL")
	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "local database path")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	probeInterval := fs.Int("i", int(cfg.ProbeInterval.Seconds()), "probe interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.ProbeInterval = time.Duration(*probeInterval) * time.Second
	return nil
}
