// Package models defines server-side data models persisted in the database.
package models

import "time"

// Owner is the single vault owner. SecretHash is a PHC-encoded Argon2id
// hash of the master secret and is replaced wholesale on change or reset.
type Owner struct {
	ID         string
	SecretHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RecoveryCredential is the stored half of a recovery code. Escrow holds
// the master secret sealed under a key derived from the code.
type RecoveryCredential struct {
	OwnerID   string
	CodeHash  string
	Escrow    string
	CreatedAt time.Time
}
