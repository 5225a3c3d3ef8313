// Package watermarks keeps the per-resource pull watermark: the greatest
// server updated_at seen by a successful pull.
package watermarks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
)

type Repository interface {
	// Get returns the watermark and whether one is stored.
	Get(ctx context.Context, resource models.Resource) (time.Time, bool, error)
	// Advance stores t unless the stored watermark is already later.
	Advance(ctx context.Context, resource models.Resource, t time.Time) error
	Reset(ctx context.Context, resource models.Resource) error
	Clear(ctx context.Context) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, resource models.Resource) (time.Time, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM watermarks WHERE resource = ?`, resource.WatermarkKey()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: get watermark %s: %w", common.ErrStorage, resource, err)
	}
	t, err := models.ParseTime(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: watermark %s: %w", common.ErrStorage, resource, err)
	}
	return t, true, nil
}

func (r *SQLiteRepository) Advance(ctx context.Context, resource models.Resource, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO watermarks (resource, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE excluded.value > watermarks.value`,
		resource.WatermarkKey(), models.FormatTime(t), models.FormatTime(models.Now()))
	if err != nil {
		return fmt.Errorf("%w: advance watermark %s: %w", common.ErrStorage, resource, err)
	}
	return nil
}

func (r *SQLiteRepository) Reset(ctx context.Context, resource models.Resource) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM watermarks WHERE resource = ?`, resource.WatermarkKey()); err != nil {
		return fmt.Errorf("%w: reset watermark %s: %w", common.ErrStorage, resource, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM watermarks`); err != nil {
		return fmt.Errorf("%w: clear watermarks: %w", common.ErrStorage, err)
	}
	return nil
}
