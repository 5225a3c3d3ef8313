package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/balancesync/internal/client/cli"
	"github.com/dmitrijs2005/balancesync/internal/client/config"
	"github.com/dmitrijs2005/balancesync/internal/filex"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := filex.EnsureParentDir(cfg.DBPath); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = cfg.DBPath + ".log"
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, File: logFile, MaxSizeMB: 10, MaxBackups: 3})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
