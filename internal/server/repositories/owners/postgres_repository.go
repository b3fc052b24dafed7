package owners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the owner. A second owner violates the singleton index and
// is reported as common.ErrAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, owner *models.Owner) (*models.Owner, error) {
	query := `
		INSERT INTO owners (secret_hash)
		VALUES ($1)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, owner.SecretHash).
		Scan(&owner.ID, &owner.CreatedAt, &owner.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return owner, nil
}

// Get returns the vault owner or common.ErrorNotFound before registration.
func (r *PostgresRepository) Get(ctx context.Context) (*models.Owner, error) {
	query := `
		SELECT id, secret_hash, created_at, updated_at
		FROM owners
		LIMIT 1
	`
	owner := &models.Owner{}
	err := r.db.QueryRowContext(ctx, query).
		Scan(&owner.ID, &owner.SecretHash, &owner.CreatedAt, &owner.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return owner, nil
}

// UpdateSecretHash replaces the stored hash of owner id.
func (r *PostgresRepository) UpdateSecretHash(ctx context.Context, id string, secretHash string) error {
	query := `
		UPDATE owners
		SET secret_hash = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, secretHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
