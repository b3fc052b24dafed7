package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/owners"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/recoverycodes"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/sessiontokens"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works on *sql.DB and inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Owners(db dbx.DBTX) owners.Repository
	RecoveryCodes(db dbx.DBTX) recoverycodes.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	Sessions(db dbx.DBTX) sessiontokens.Repository
}
