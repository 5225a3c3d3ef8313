// Package server wires the reference backend: PostgreSQL storage, the
// HTTP API, the realtime hub and background maintenance.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/balancesync/internal/logging"
	"github.com/dmitrijs2005/balancesync/internal/server/config"
	"github.com/dmitrijs2005/balancesync/internal/server/httpapi"
	"github.com/dmitrijs2005/balancesync/internal/server/realtime"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/balancesync/internal/server/services"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	users *services.UserService
	hub   *realtime.Hub
	feeds *realtime.Listener
	api   *httpapi.Server
}

// NewApp opens the database, applies migrations and builds the services.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	hub := realtime.NewHub(logger)
	users := services.NewUserService(db, rm, cfg)
	messages := services.NewMessageService(db, rm, hub, logger)
	resources := services.NewResourceService(db, rm)

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		users:  users,
		hub:    hub,
		feeds:  realtime.NewListener(cfg.DatabaseDSN, hub, logger),
		api:    httpapi.NewServer(cfg.APIKey, users, messages, resources, hub, logger),
	}, nil
}

// Run serves until ctx is cancelled or a component fails.
func (app *App) Run(ctx context.Context) error {
	defer func() { _ = app.db.Close() }()

	app.logger.Info(ctx, "Starting app...", "address", app.config.ListenAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.hub.Run(ctx) })
	g.Go(func() error { return app.feeds.Run(ctx) })
	g.Go(func() error { return app.serveHTTP(ctx) })
	g.Go(func() error { return app.purgeTokens(ctx) })

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.config.ListenAddr,
		Handler:           app.api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info(context.Background(), "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func (app *App) purgeTokens(ctx context.Context) error {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := app.users.PurgeExpiredTokens(ctx)
			if err != nil {
				app.logger.Warn(ctx, "token purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired refresh tokens purged", "count", n)
			}
		}
	}
}
