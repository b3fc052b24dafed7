package sessiontokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, owner_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.OwnerID, s.TokenHash, s.CreatedAt, s.ExpiresAt); err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindByTokenHash returns the session stored under tokenHash or
// common.ErrorNotFound.
func (r *PostgresRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `
		SELECT id, owner_id, token_hash, created_at, expires_at, revoked_at
		FROM sessions
		WHERE token_hash = $1
	`
	s := &models.Session{}
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, tokenHash).
		Scan(&s.ID, &s.OwnerID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return s, nil
}

// RevokeOwner marks every unrevoked, unexpired session of ownerID.
func (r *PostgresRepository) RevokeOwner(ctx context.Context, ownerID string, at time.Time) (int64, error) {
	query := `
		UPDATE sessions
		SET revoked_at = $2
		WHERE owner_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`
	res, err := r.db.ExecContext(ctx, query, ownerID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// RevokeTokenHash revokes one session, keeping the first revocation time.
func (r *PostgresRepository) RevokeTokenHash(ctx context.Context, tokenHash string, at time.Time) error {
	query := `
		UPDATE sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`
	res, err := r.db.ExecContext(ctx, query, tokenHash, at)
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

// DeleteInactive removes revoked and expired sessions.
func (r *PostgresRepository) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE revoked_at IS NOT NULL OR expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
