package recoverycodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert stores rc, replacing any credential the owner already had.
func (r *PostgresRepository) Upsert(ctx context.Context, rc *models.RecoveryCredential) error {
	query := `
		INSERT INTO recovery_credentials (owner_id, code_hash, escrow)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, escrow = EXCLUDED.escrow, created_at = now()
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, rc.OwnerID, rc.CodeHash, rc.Escrow).Scan(&rc.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the owner's credential or common.ErrorNotFound.
func (r *PostgresRepository) Find(ctx context.Context, ownerID string) (*models.RecoveryCredential, error) {
	query := `
		SELECT owner_id, code_hash, escrow, created_at
		FROM recovery_credentials
		WHERE owner_id = $1
	`
	rc := &models.RecoveryCredential{}
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&rc.OwnerID, &rc.CodeHash, &rc.Escrow, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rc, nil
}

// Delete removes the owner's credential. Deleting a missing one is a no-op.
func (r *PostgresRepository) Delete(ctx context.Context, ownerID string) error {
	query := `
		DELETE FROM recovery_credentials
		WHERE owner_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
