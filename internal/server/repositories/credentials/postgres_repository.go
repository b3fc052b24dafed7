package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

const selectColumns = `id, owner_id, website, username, password, notes, security_level, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts c and fills in its generated id and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO credentials (owner_id, website, username, password, notes, security_level)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		c.OwnerID, c.Website, c.Username, c.Password, c.Notes, string(c.SecurityLevel)).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Get returns credential id of ownerID or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, ownerID, id string) (*models.Credential, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM credentials
		WHERE owner_id = $1 AND id = $2
	`
	c, err := scan(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// List returns all credentials of ownerID, oldest first.
func (r *PostgresRepository) List(ctx context.Context, ownerID string) ([]*models.Credential, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM credentials
		WHERE owner_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Update overwrites the mutable fields of c.
func (r *PostgresRepository) Update(ctx context.Context, c *models.Credential) error {
	query := `
		UPDATE credentials
		SET website = $3, username = $4, password = $5, notes = $6, security_level = $7, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.Website, c.Username, c.Password, c.Notes, string(c.SecurityLevel))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, id string) error {
	query := `
		DELETE FROM credentials
		WHERE id = $1 AND owner_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Credential, error) {
	c := &models.Credential{}
	var level string
	if err := s.Scan(&c.ID, &c.OwnerID, &c.Website, &c.Username, &c.Password, &c.Notes,
		&level, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.SecurityLevel = models.SecurityLevel(level)
	return c, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
