// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/migrations"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/owners"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/recoverycodes"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/sessiontokens"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Owners(db dbx.DBTX) owners.Repository {
	return owners.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RecoveryCodes(db dbx.DBTX) recoverycodes.Repository {
	return recoverycodes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Credentials(db dbx.DBTX) credentials.Repository {
	return credentials.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Sessions(db dbx.DBTX) sessiontokens.Repository {
	return sessiontokens.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}
