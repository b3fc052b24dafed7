// Package recoverycodes persists the owner's recovery credential: the hash
// of the recovery code and the escrowed master secret.
package recoverycodes

import (
	"context"

	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, rc *models.RecoveryCredential) error
	Find(ctx context.Context, ownerID string) (*models.RecoveryCredential, error)
	Delete(ctx context.Context, ownerID string) error
}
