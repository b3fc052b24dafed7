// Package sessiontokens is the PostgreSQL session store. It keeps only
// token hashes and implements sessions.Store.
package sessiontokens

import (
	"github.com/dmitrijs2005/vaultcore/internal/sessions"
)

type Repository interface {
	sessions.Store
}
