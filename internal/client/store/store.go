// Package store opens the local SQLite database, brings its schema up to
// date and exposes the repositories built on it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/balancesync/internal/client/migrations"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/messages"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/settings"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/snapshots"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/watermarks"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
	"github.com/dmitrijs2005/balancesync/internal/logging"

	_ "modernc.org/sqlite"
)

// Repositories groups the tables of the local store. A Repositories value is
// bound either to the database or to a single transaction.
type Repositories struct {
	Messages   messages.Repository
	Settings   settings.Repository
	Watermarks watermarks.Repository
	Snapshots  snapshots.Repository
}

func newRepositories(db dbx.DBTX) Repositories {
	return Repositories{
		Messages:   messages.NewSQLiteRepository(db),
		Settings:   settings.NewSQLiteRepository(db),
		Watermarks: watermarks.NewSQLiteRepository(db),
		Snapshots:  snapshots.NewSQLiteRepository(db),
	}
}

// Store is the local durable store.
type Store struct {
	Repositories

	db     *sql.DB
	logger logging.Logger

	// Degraded is set when a schema step could not be applied. The store
	// stays usable with the tables that exist.
	Degraded bool
}

var gooseMu sync.Mutex

// dsn adds the pragmas the store relies on: a busy timeout, WAL journaling
// and synchronous=FULL so a committed write survives a crash.
func dsn(path string) string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "busy_timeout(5000)")
	pragmas.Add("_pragma", "synchronous(FULL)")
	pragmas.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		pragmas.Add("_pragma", "journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas.Encode()
}

// Open opens (creating if needed) the store at path and migrates it.
// A failing migration step stops the upgrade at the last applied version:
// later steps are not attempted. Open still succeeds, logs the failure and
// marks the store Degraded; rows in the previous layout are kept.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", common.ErrStorage, path, err)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: open %s: %w", common.ErrStorage, path, err)
	}

	s := &Store{
		Repositories: newRepositories(db),
		db:           db,
		logger:       logger.With("component", "store"),
	}
	if err := s.migrate(ctx); err != nil {
		s.Degraded = true
		s.logger.Error(ctx, "schema migration incomplete, continuing with current schema", "error", err)
	}
	return s, nil
}

// migrate applies pending schema versions one at a time. It stops at the
// first failing step because later steps read the layout it produces.
func (s *Store) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	migrations.SetLogger(s.logger)
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("%w: %w", common.ErrSchemaMigration, err)
	}

	for {
		err := goose.UpByOneContext(ctx, s.db, ".")
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrSchemaMigration, err)
		}
		v, _ := goose.GetDBVersionContext(ctx, s.db)
		s.logger.Debug(ctx, "schema step applied", "version", v)
	}
}

// Version returns the applied schema version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

// InTx runs fn with repositories bound to one transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, newRepositories(tx))
	})
}

// Wipe removes every message, watermark, snapshot and setting in one
// transaction.
func (s *Store) Wipe(ctx context.Context) error {
	err := s.InTx(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.Messages.Clear(ctx); err != nil {
			return err
		}
		if err := r.Watermarks.Clear(ctx); err != nil {
			return err
		}
		if err := r.Snapshots.Clear(ctx); err != nil {
			return err
		}
		return r.Settings.Clear(ctx)
	})
	if err != nil {
		return fmt.Errorf("wipe store: %w", err)
	}
	s.logger.Info(ctx, "local store wiped")
	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
