package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/balancesync/internal/dbx"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/messages"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/resources"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Messages(db dbx.DBTX) messages.Repository
	Resources(db dbx.DBTX) resources.Repository
}
