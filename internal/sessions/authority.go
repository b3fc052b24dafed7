// Package sessions issues and validates time-bounded bearer sessions.
//
// Tokens are 32 random bytes in unpadded URL-safe base64. The raw token is
// returned to the caller once; storage only ever sees its SHA-256 digest.
// Expiry is evaluated lazily on every lookup, and Sweep removes rows that
// are no longer usable.
package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/google/uuid"
)

const tokenBytes = 32

// State is the outcome of validating a token.
type State int

const (
	NotFound State = iota
	Active
	Expired
	Revoked
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	case Revoked:
		return "revoked"
	default:
		return "not_found"
	}
}

// Err maps non-active states to their session error; Active yields nil.
func (s State) Err() error {
	switch s {
	case Active:
		return nil
	case Expired:
		return common.ErrSessionExpired
	case Revoked:
		return common.ErrSessionRevoked
	default:
		return common.ErrSessionNotFound
	}
}

// Store persists sessions by token hash. Lookups of unknown hashes return
// common.ErrorNotFound.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	RevokeOwner(ctx context.Context, ownerID string, at time.Time) (int64, error)
	RevokeTokenHash(ctx context.Context, tokenHash string, at time.Time) error
	DeleteInactive(ctx context.Context, now time.Time) (int64, error)
}

// Issued carries the bearer token alongside the stored session.
type Issued struct {
	Token   string
	Session *models.Session
}

// Authority issues, validates and revokes sessions against a Store.
type Authority struct {
	store Store
	now   func() time.Time
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

func NewAuthority(store Store, opts ...Option) *Authority {
	a := &Authority{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithStore returns a copy of a bound to store, typically a repository
// opened on a transaction.
func (a *Authority) WithStore(store Store) *Authority {
	return &Authority{store: store, now: a.now}
}

// HashToken returns the hex SHA-256 digest under which token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a session for ownerID that expires after ttl.
func (a *Authority) Issue(ctx context.Context, ownerID string, ttl time.Duration) (*Issued, error) {
	if ownerID == "" || ttl <= 0 {
		return nil, common.ErrInvalidInput
	}

	raw, err := common.RandomBytes(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	common.WipeByteArray(raw)

	now := a.now().UTC()
	s := &models.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TokenHash: HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := a.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &Issued{Token: token, Session: s}, nil
}

// Validate looks token up and classifies it. The session is returned for
// every state except NotFound. A revoked session reports Revoked even after
// it has also expired.
func (a *Authority) Validate(ctx context.Context, token string) (State, *models.Session, error) {
	if token == "" {
		return NotFound, nil, nil
	}

	s, err := a.store.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return NotFound, nil, nil
		}
		return NotFound, nil, fmt.Errorf("find session: %w", err)
	}

	switch {
	case s.Revoked():
		return Revoked, s, nil
	case s.ExpiredAt(a.now()):
		return Expired, s, nil
	default:
		return Active, s, nil
	}
}

// Check is Validate with non-active states reported as errors.
func (a *Authority) Check(ctx context.Context, token string) (*models.Session, error) {
	state, s, err := a.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := state.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// RevokeOwner revokes every still-active session of ownerID and returns how
// many were revoked.
func (a *Authority) RevokeOwner(ctx context.Context, ownerID string) (int64, error) {
	n, err := a.store.RevokeOwner(ctx, ownerID, a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke owner sessions: %w", err)
	}
	return n, nil
}

// RevokeToken revokes the single session behind token. Revoking an already
// revoked session is not an error.
func (a *Authority) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return common.ErrSessionNotFound
	}

	err := a.store.RevokeTokenHash(ctx, HashToken(token), a.now().UTC())
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Sweep deletes expired and revoked sessions.
func (a *Authority) Sweep(ctx context.Context) (int64, error) {
	n, err := a.store.DeleteInactive(ctx, a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}
