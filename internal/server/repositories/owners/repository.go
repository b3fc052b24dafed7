// Package owners persists the single vault owner and its master secret hash.
package owners

import (
	"context"

	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, owner *models.Owner) (*models.Owner, error)
	Get(ctx context.Context) (*models.Owner, error)
	UpdateSecretHash(ctx context.Context, id string, secretHash string) error
}
