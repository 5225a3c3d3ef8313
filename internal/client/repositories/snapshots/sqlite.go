// Package snapshots stores the whole-resource cache entries behind the query
// layer. Values are written snappy-compressed; rows carried over from the
// legacy cache table are plain JSON and are read as such.
package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
)

const (
	EncodingJSON   = "json"
	EncodingSnappy = "snappy"
)

// Snapshot is one cache entry: the full payload of a resource and the time
// it was fetched.
type Snapshot struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

type Repository interface {
	// Get returns common.ErrNotFound when no snapshot is stored for key.
	Get(ctx context.Context, key string) (*Snapshot, error)
	// Put replaces the snapshot for key.
	Put(ctx context.Context, s *Snapshot) error
	List(ctx context.Context) ([]*Snapshot, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func decode(key, encoding string, raw []byte) ([]byte, error) {
	switch encoding {
	case EncodingSnappy:
		v, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decode snapshot %s: %w", common.ErrStorage, key, err)
		}
		return v, nil
	case EncodingJSON, "":
		return raw, nil
	}
	return nil, fmt.Errorf("%w: snapshot %s: unknown encoding %q", common.ErrStorage, key, encoding)
}

func scanSnapshot(s interface{ Scan(...any) error }) (*Snapshot, error) {
	var (
		key, encoding, updated string
		raw                    []byte
	)
	if err := s.Scan(&key, &raw, &encoding, &updated); err != nil {
		return nil, err
	}
	value, err := decode(key, encoding, raw)
	if err != nil {
		return nil, err
	}
	at, err := models.ParseTime(updated)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot %s: %w", common.ErrStorage, key, err)
	}
	return &Snapshot{Key: key, Value: value, UpdatedAt: at}, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (*Snapshot, error) {
	s, err := scanSnapshot(r.db.QueryRowContext(ctx,
		`SELECT key, value, encoding, updated_at FROM snapshots WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil && !errors.Is(err, common.ErrStorage) {
		return nil, fmt.Errorf("%w: get snapshot %s: %w", common.ErrStorage, key, err)
	}
	return s, err
}

func (r *SQLiteRepository) Put(ctx context.Context, s *Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, encoding, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, encoding = excluded.encoding, updated_at = excluded.updated_at`,
		s.Key, snappy.Encode(nil, s.Value), EncodingSnappy, models.FormatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("%w: put snapshot %s: %w", common.ErrStorage, s.Key, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value, encoding, updated_at FROM snapshots ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %w", common.ErrStorage, err)
	}
	defer rows.Close()

	var result []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: list snapshots: %w", common.ErrStorage, err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %w", common.ErrStorage, err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete snapshot %s: %w", common.ErrStorage, key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("%w: clear snapshots: %w", common.ErrStorage, err)
	}
	return nil
}
