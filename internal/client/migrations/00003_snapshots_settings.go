package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddNamedMigrationContext("00003_snapshots_settings.go", upSnapshotsSettings, downSnapshotsSettings)
}

const createV3 = `
CREATE TABLE IF NOT EXISTS snapshots (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    encoding   TEXT NOT NULL DEFAULT 'json',
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS watermarks (
    resource   TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

// upSnapshotsSettings creates the snapshot, settings and watermark tables
// and moves the version 1 "cached" rows into snapshots. When the copy fails
// the legacy table is left untouched and the step still completes.
func upSnapshotsSettings(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, createV3); err != nil {
		return fmt.Errorf("create v3 tables: %w", err)
	}

	ok, err := tableExists(ctx, tx, "cached")
	if err != nil {
		return fmt.Errorf("inspect legacy cache: %w", err)
	}
	if !ok {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT legacy_cache`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO snapshots (key, value, encoding, updated_at)
		SELECT key, CAST(value AS BLOB), 'json', updated_at FROM cached`)
	if err != nil {
		log().Warn(ctx, "legacy cache not migrated, keeping old table", "error", err)
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO legacy_cache`); rbErr != nil {
			return fmt.Errorf("rollback legacy copy: %w", rbErr)
		}
		_, err = tx.ExecContext(ctx, `RELEASE legacy_cache`)
		return err
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DROP TABLE cached`); err != nil {
		return fmt.Errorf("drop legacy cache: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `RELEASE legacy_cache`); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	log().Info(ctx, "legacy cache migrated", "rows", n)
	return nil
}

func downSnapshotsSettings(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS cached (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
INSERT OR IGNORE INTO cached (key, value, updated_at)
    SELECT key, CAST(value AS TEXT), updated_at FROM snapshots WHERE encoding = 'json';
DROP TABLE IF EXISTS snapshots;
DROP TABLE IF EXISTS settings;
DROP TABLE IF EXISTS watermarks;`)
	return err
}
