// Package migrations holds the versioned schema of the local store.
//
// Versions 1 and 2 are plain SQL. Version 3 is a Go migration because it
// reads the version 1 layout and carries its rows forward.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/dmitrijs2005/balancesync/internal/logging"
)

//go:embed *.sql
var Migrations embed.FS

var (
	mu     sync.RWMutex
	logger logging.Logger = logging.Discard()
)

// SetLogger sets the logger used by Go migrations.
func SetLogger(l logging.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

func log() logging.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return n > 0, err
}
