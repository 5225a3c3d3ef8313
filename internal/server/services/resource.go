package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/resources"
)

// ResourceService serves the read-only feed tables.
type ResourceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewResourceService(db *sql.DB, m repomanager.RepositoryManager) *ResourceService {
	return &ResourceService{db: db, repomanager: m}
}

func (s *ResourceService) Known(table string) bool {
	return resources.Tables[table]
}

func (s *ResourceService) Since(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error) {
	return s.repomanager.Resources(s.db).Since(ctx, table, since)
}
