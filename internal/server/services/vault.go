// Package services implements the vault's use cases on top of the crypto
// primitives and the repositories: registration, login and sessions,
// credential storage, recovery codes and master secret rotation.
package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/hasher"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/ratelimit"
	"github.com/dmitrijs2005/vaultcore/internal/recovery"
	"github.com/dmitrijs2005/vaultcore/internal/server/config"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultcore/internal/sessions"
	"github.com/dmitrijs2005/vaultcore/internal/vaultcipher"
	"github.com/dmitrijs2005/vaultcore/internal/workpool"
)

// VaultService is safe for concurrent use.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *config.Config
	logger      logging.Logger

	hasher     *hasher.Hasher
	recovery   *recovery.Service
	sessions   *sessions.Authority
	limiter    *ratelimit.Limiter
	pool       *workpool.Pool
	keyring    *Keyring
	cipherOpts []vaultcipher.Option
	now        func() time.Time

	// rotation is held exclusively while the vault is re-encrypted and
	// shared by every write that encrypts under a session cipher.
	rotation sync.RWMutex

	// dummyHash is verified against when no owner exists, so a missing
	// vault costs the same as a wrong secret.
	dummyHash string
}

// Option configures a VaultService.
type Option func(*VaultService)

// WithHasher replaces the default Argon2id hasher.
func WithHasher(h *hasher.Hasher) Option {
	return func(s *VaultService) { s.hasher = h }
}

// WithClock replaces time.Now for sessions, rate limiting and the keyring.
func WithClock(now func() time.Time) Option {
	return func(s *VaultService) { s.now = now }
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger, opts ...Option) (*VaultService, error) {
	s := &VaultService{
		db:          db,
		repomanager: m,
		config:      cfg,
		logger:      logger,
		hasher:      hasher.Default(),
		now:         time.Now,
		keyring:     NewKeyring(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cipherOpts = []vaultcipher.Option{vaultcipher.WithIterations(cfg.KDFIterations)}
	s.recovery = recovery.NewService(s.hasher, s.cipherOpts...)
	s.sessions = sessions.NewAuthority(m.Sessions(db), sessions.WithClock(s.now))
	s.limiter = ratelimit.New(
		ratelimit.WithWindow(cfg.RateLimitWindow),
		ratelimit.WithThreshold(cfg.RateLimitThreshold),
		ratelimit.WithClock(s.now),
	)
	s.pool = workpool.New(cfg.HashWorkers)

	filler, err := common.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("dummy secret: %w", err)
	}
	s.dummyHash, err = s.hasher.Hash(filler)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	return s, nil
}

// Register creates the vault owner. A vault has a single owner; a second
// registration fails with common.ErrAlreadyExists. secret is wiped.
func (s *VaultService) Register(ctx context.Context, secret []byte) (*models.Owner, error) {
	defer common.WipeByteArray(secret)

	if len(secret) == 0 {
		return nil, common.ErrInvalidInput
	}

	repo := s.repomanager.Owners(s.db)

	if _, err := repo.Get(ctx); err == nil {
		return nil, common.ErrAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error loading owner: %w", err)
	}

	hash, err := s.hash(ctx, secret)
	if err != nil {
		return nil, err
	}

	owner, err := repo.Create(ctx, &models.Owner{SecretHash: hash})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating owner: %w", err)
	}

	s.logger.Info(ctx, "vault registered", "owner_id", owner.ID)
	return owner, nil
}

// Login checks secret for clientKey and opens a session. Failed attempts
// count against clientKey, and so do attempts still being checked; once
// blocked, a *common.RateLimitError is returned without checking the
// secret. secret is wiped.
func (s *VaultService) Login(ctx context.Context, clientKey string, secret []byte) (*sessions.Issued, error) {
	defer common.WipeByteArray(secret)

	att, err := s.acquire(ctx, clientKey)
	if err != nil {
		return nil, err
	}
	defer att.Release()

	if len(secret) == 0 {
		return nil, common.ErrInvalidInput
	}

	owner, err := s.authenticate(ctx, att, clientKey, secret)
	if err != nil {
		return nil, err
	}

	c, err := vaultcipher.New(bytes.Clone(secret), s.cipherOpts...)
	if err != nil {
		return nil, fmt.Errorf("error building cipher: %w", err)
	}

	// no rotation may commit between the hash re-check and Put
	s.rotation.RLock()
	defer s.rotation.RUnlock()

	if err := s.stillCurrent(ctx, owner); err != nil {
		c.Destroy()
		if errors.Is(err, common.ErrAuthenticationFailed) {
			s.logger.Warn(ctx, "secret changed during login", "client", clientKey, "owner_id", owner.ID)
		}
		return nil, err
	}

	issued, err := s.sessions.Issue(ctx, owner.ID, s.config.SessionTTL)
	if err != nil {
		c.Destroy()
		return nil, fmt.Errorf("error issuing session: %w", err)
	}

	s.keyring.Put(issued.Session.ID, owner.ID, issued.Session.ExpiresAt, c)
	s.logger.Info(ctx, "login succeeded", "client", clientKey, "owner_id", owner.ID, "session_id", issued.Session.ID)

	return issued, nil
}

// Logout revokes the session behind token and forgets its cipher.
func (s *VaultService) Logout(ctx context.Context, token string) error {
	_, sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.RevokeToken(ctx, token); err != nil {
		return err
	}
	if sess != nil {
		s.keyring.Drop(sess.ID)
		s.logger.Info(ctx, "logout", "owner_id", sess.OwnerID, "session_id", sess.ID)
	}
	return nil
}

// Session returns the active session behind token.
func (s *VaultService) Session(ctx context.Context, token string) (*models.Session, error) {
	state, sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := state.Err(); err != nil {
		if sess != nil {
			s.keyring.Drop(sess.ID)
		}
		return nil, err
	}
	return sess, nil
}

// Cipher returns the cipher unlocked at login for the session behind token.
// A session that outlived its cipher (for example across a restart) is
// reported as not found.
func (s *VaultService) Cipher(ctx context.Context, token string) (*vaultcipher.Cipher, *models.Session, error) {
	sess, err := s.Session(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	c, ok := s.keyring.Get(sess.ID)
	if !ok {
		return nil, nil, common.ErrSessionNotFound
	}
	return c, sess, nil
}

// SweepSessions deletes dead sessions and prunes the rate limiter and
// keyring.
func (s *VaultService) SweepSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	pruned := s.limiter.Prune()
	dropped := s.keyring.DropExpired(s.now())

	s.logger.Debug(ctx, "sessions swept", "deleted", n, "limiter_keys_pruned", pruned, "ciphers_dropped", dropped)
	return n, nil
}

// authenticate loads the owner and verifies secret, settling att as a
// failure on mismatch and as a success otherwise. Both a wrong secret and a
// missing owner yield common.ErrAuthenticationFailed.
func (s *VaultService) authenticate(ctx context.Context, att *ratelimit.Attempt, clientKey string, secret []byte) (*models.Owner, error) {
	owner, err := s.repomanager.Owners(s.db).Get(ctx)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error loading owner: %w", err)
	}

	encoded := s.dummyHash
	if owner != nil {
		encoded = owner.SecretHash
	}

	ok, err := s.verify(ctx, secret, encoded)
	if err != nil {
		return nil, fmt.Errorf("error verifying secret: %w", err)
	}
	if !ok || owner == nil {
		att.Fail()
		s.logger.Warn(ctx, "authentication failed", "client", clientKey)
		return nil, common.ErrAuthenticationFailed
	}

	att.Succeed()
	return owner, nil
}

// stillCurrent reports common.ErrAuthenticationFailed when the stored hash
// of owner no longer matches the one it was loaded with.
func (s *VaultService) stillCurrent(ctx context.Context, owner *models.Owner) error {
	current, err := s.repomanager.Owners(s.db).Get(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrAuthenticationFailed
	}
	if err != nil {
		return fmt.Errorf("error loading owner: %w", err)
	}
	if current.SecretHash != owner.SecretHash {
		return common.ErrAuthenticationFailed
	}
	return nil
}

// acquire reserves an attempt for clientKey or reports it as rate limited.
func (s *VaultService) acquire(ctx context.Context, clientKey string) (*ratelimit.Attempt, error) {
	att, blocked, retry := s.limiter.Acquire(clientKey)
	if blocked {
		s.logger.Warn(ctx, "client rate limited", "client", clientKey, "retry_after", retry)
		return nil, &common.RateLimitError{RetryAfter: retry}
	}
	return att, nil
}

func (s *VaultService) hash(ctx context.Context, secret []byte) (string, error) {
	return workpool.Call(ctx, s.pool, func() (string, error) {
		return s.hasher.Hash(secret)
	})
}

func (s *VaultService) verify(ctx context.Context, secret []byte, encoded string) (bool, error) {
	return workpool.Call(ctx, s.pool, func() (bool, error) {
		return s.hasher.Verify(secret, encoded)
	})
}
