package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/hasher"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/server/config"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/owners"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/recoverycodes"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/sessiontokens"
	"github.com/dmitrijs2005/vaultcore/internal/sessions"
)

var errBoom = errors.New("boom")

// --- fake repositories ---

type fakeOwners struct {
	mu        sync.Mutex
	owner     *models.Owner
	getErr    error
	updateErr error
	gets      int
}

func (f *fakeOwners) Create(_ context.Context, o *models.Owner) (*models.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != nil {
		return nil, common.ErrAlreadyExists
	}
	c := *o
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	f.owner = &c
	out := c
	return &out, nil
}

func (f *fakeOwners) Get(context.Context) (*models.Owner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.owner == nil {
		return nil, common.ErrorNotFound
	}
	out := *f.owner
	return &out, nil
}

func (f *fakeOwners) UpdateSecretHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.owner == nil || f.owner.ID != id {
		return common.ErrorNotFound
	}
	f.owner.SecretHash = hash
	return nil
}

func (f *fakeOwners) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeOwners) hash() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner.SecretHash
}

type fakeRecovery struct {
	mu   sync.Mutex
	byID map[string]models.RecoveryCredential
}

func (f *fakeRecovery) Upsert(_ context.Context, rc *models.RecoveryCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc.CreatedAt = time.Now().UTC()
	f.byID[rc.OwnerID] = *rc
	return nil
}

func (f *fakeRecovery) Find(_ context.Context, ownerID string) (*models.RecoveryCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc, ok := f.byID[ownerID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rc, nil
}

func (f *fakeRecovery) Delete(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, ownerID)
	return nil
}

type fakeCredentials struct {
	mu      sync.Mutex
	rows    map[string]models.Credential
	listErr error
}

func (f *fakeCredentials) Create(_ context.Context, c *models.Credential) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := *c
	row.ID = uuid.NewString()
	row.CreatedAt = time.Now().UTC()
	row.UpdatedAt = row.CreatedAt
	f.rows[row.ID] = row
	out := row
	return &out, nil
}

func (f *fakeCredentials) Get(_ context.Context, ownerID, id string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return &row, nil
}

func (f *fakeCredentials) List(_ context.Context, ownerID string) ([]*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.Credential
	for _, row := range f.rows {
		if row.OwnerID == ownerID {
			r := row
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeCredentials) Update(_ context.Context, c *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[c.ID]
	if !ok || row.OwnerID != c.OwnerID {
		return common.ErrorNotFound
	}
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeCredentials) Delete(_ context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeCredentials) raw(id string) models.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fakeRepoManager struct {
	owners      *fakeOwners
	recovery    *fakeRecovery
	credentials *fakeCredentials
	sessions    *sessions.MemoryStore
	// store, when set, is handed out instead of sessions.
	store sessiontokens.Repository
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		owners:      &fakeOwners{},
		recovery:    &fakeRecovery{byID: make(map[string]models.RecoveryCredential)},
		credentials: &fakeCredentials{rows: make(map[string]models.Credential)},
		sessions:    sessions.NewMemoryStore(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *fakeRepoManager) Owners(dbx.DBTX) owners.Repository               { return m.owners }
func (m *fakeRepoManager) RecoveryCodes(dbx.DBTX) recoverycodes.Repository { return m.recovery }
func (m *fakeRepoManager) Credentials(dbx.DBTX) credentials.Repository     { return m.credentials }

func (m *fakeRepoManager) Sessions(dbx.DBTX) sessiontokens.Repository {
	if m.store != nil {
		return m.store
	}
	return m.sessions
}

// gatedStore parks Create calls while armed until release is closed.
// entered is closed by the first parked Create.
type gatedStore struct {
	*sessions.MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(inner *sessions.MemoryStore) *gatedStore {
	return &gatedStore{
		MemoryStore: inner,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) Create(ctx context.Context, s *models.Session) error {
	if g.armed.Load() {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.MemoryStore.Create(ctx, s)
}

// --- helpers ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		SessionTTL:         30 * time.Minute,
		RateLimitWindow:    15 * time.Minute,
		RateLimitThreshold: 5,
		HashWorkers:        2,
		KDFIterations:      1000,
	}
}

type testEnv struct {
	svc   *VaultService
	repos *fakeRepoManager
	mock  sqlmock.Sqlmock
	clock *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, newFakeRepoManager())
}

func newTestEnvWith(t *testing.T, repos *fakeRepoManager) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	cheap := hasher.NewUnchecked(hasher.Params{Time: 1, MemoryKiB: 64, Threads: 1, KeyLen: 32, SaltLen: 16})

	svc, err := NewVaultService(db, repos, testConfig(), logging.Nop(), WithHasher(cheap), WithClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{svc: svc, repos: repos, mock: mock, clock: clock}
}

// registerAndLogin registers the owner with secret and returns a session
// token.
func (e *testEnv) registerAndLogin(t *testing.T, secret string) string {
	t.Helper()
	ctx := context.Background()

	_, err := e.svc.Register(ctx, []byte(secret))
	require.NoError(t, err)

	issued, err := e.svc.Login(ctx, "127.0.0.1", []byte(secret))
	require.NoError(t, err)
	return issued.Token
}
