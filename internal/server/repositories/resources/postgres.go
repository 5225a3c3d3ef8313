// Package resources serves the read-only feed tables (news, quotes,
// statistics) as JSON rows.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
)

// Tables lists the feed tables that may be queried.
var Tables = map[string]bool{
	"news":       true,
	"quotes":     true,
	"statistics": true,
}

type Repository interface {
	// Since returns the rows of table updated after since, oldest first.
	Since(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error)
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Since(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error) {
	if !Tables[table] {
		return nil, fmt.Errorf("%w: unknown resource %q", common.ErrNotFound, table)
	}
	var arg any
	if since != nil {
		arg = *since
	}

	// table is whitelisted above.
	query := fmt.Sprintf(`SELECT to_jsonb(t) FROM %s t WHERE ($1::timestamptz IS NULL OR t.updated_at > $1) ORDER BY t.updated_at, t.id`, table)
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]json.RawMessage, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
