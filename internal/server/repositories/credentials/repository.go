// Package credentials persists encrypted website credentials.
package credentials

import (
	"context"

	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Credential) (*models.Credential, error)
	Get(ctx context.Context, ownerID, id string) (*models.Credential, error)
	List(ctx context.Context, ownerID string) ([]*models.Credential, error)
	Update(ctx context.Context, c *models.Credential) error
	Delete(ctx context.Context, ownerID, id string) error
}
