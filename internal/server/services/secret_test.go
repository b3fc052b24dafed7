package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/sessions"
)

func seedCredential(t *testing.T, e *testEnv, token string) *Credential {
	t.Helper()
	c, err := e.svc.AddCredential(context.Background(), token, CredentialInput{
		Website:  "example.com",
		Username: "alice",
		Password: "hunter2",
		Notes:    "pin 1234",
	})
	require.NoError(t, err)
	return c
}

func TestGenerateRecovery(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "s3cret")

	code, err := e.svc.GenerateRecovery(ctx, token)
	require.NoError(t, err)
	assert.Len(t, code, 24)
	assert.Equal(t, 4, strings.Count(code, "-"))

	owner, err := e.repos.owners.Get(ctx)
	require.NoError(t, err)
	rc, err := e.repos.recovery.Find(ctx, owner.ID)
	require.NoError(t, err)
	assert.NotContains(t, rc.CodeHash, code)
	assert.NotEmpty(t, rc.Escrow)

	_, err = e.svc.GenerateRecovery(ctx, "bogus")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestChangeSecret_ReencryptsAndRevokes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "old-secret")
	cred := seedCredential(t, e, token)
	before := e.repos.credentials.raw(cred.ID)

	_, err := e.svc.GenerateRecovery(ctx, token)
	require.NoError(t, err)

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()

	oldSecret, newSecret := []byte("old-secret"), []byte("new-secret")
	require.NoError(t, e.svc.ChangeSecret(ctx, "k", token, oldSecret, newSecret))
	require.NoError(t, e.mock.ExpectationsWereMet())

	assert.Equal(t, make([]byte, len(oldSecret)), oldSecret)
	assert.Equal(t, make([]byte, len(newSecret)), newSecret)

	after := e.repos.credentials.raw(cred.ID)
	assert.NotEqual(t, before.Password, after.Password)
	assert.NotEqual(t, before.Notes, after.Notes)

	_, err = e.svc.Session(ctx, token)
	assert.ErrorIs(t, err, common.ErrSessionRevoked)
	assert.Equal(t, 0, e.svc.keyring.Len())
	assert.Empty(t, e.repos.recovery.byID, "recovery code must be invalidated")

	_, err = e.svc.Login(ctx, "k", []byte("old-secret"))
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)

	issued, err := e.svc.Login(ctx, "k", []byte("new-secret"))
	require.NoError(t, err)

	got, err := e.svc.GetCredential(ctx, issued.Token, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)
	assert.Equal(t, "pin 1234", got.Notes)
}

func TestChangeSecret_WrongOldSecret(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "old-secret")
	hash := e.repos.owners.hash()

	err := e.svc.ChangeSecret(ctx, "k", token, []byte("guess"), []byte("new-secret"))
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)

	assert.Equal(t, hash, e.repos.owners.hash())
	assert.Equal(t, 1, e.svc.limiter.Len())
	require.NoError(t, e.mock.ExpectationsWereMet())

	_, err = e.svc.Session(ctx, token)
	assert.NoError(t, err)
}

func TestChangeSecret_InvalidInput(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerAndLogin(t, "old-secret")

	err := e.svc.ChangeSecret(context.Background(), "k", token, []byte("old-secret"), nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestChangeSecret_RollsBackOnFailure(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "old-secret")
	seedCredential(t, e, token)
	hash := e.repos.owners.hash()

	e.repos.owners.updateErr = errBoom
	e.mock.ExpectBegin()
	e.mock.ExpectRollback()

	err := e.svc.ChangeSecret(ctx, "k", token, []byte("old-secret"), []byte("new-secret"))
	assert.ErrorIs(t, err, errBoom)
	require.NoError(t, e.mock.ExpectationsWereMet())

	assert.Equal(t, hash, e.repos.owners.hash())
	assert.Equal(t, 1, e.svc.keyring.Len())
	_, err = e.svc.Session(ctx, token)
	assert.NoError(t, err)
}

func TestChangeSecret_BeginFails(t *testing.T) {
	e := newTestEnv(t)
	token := e.registerAndLogin(t, "old-secret")

	e.mock.ExpectBegin().WillReturnError(errBoom)

	err := e.svc.ChangeSecret(context.Background(), "k", token, []byte("old-secret"), []byte("new-secret"))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, e.svc.keyring.Len())
}

func TestResetWithRecovery_PreservesCredentials(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "forgotten")
	cred := seedCredential(t, e, token)

	code, err := e.svc.GenerateRecovery(ctx, token)
	require.NoError(t, err)

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()

	// codes are accepted in lower case without separators
	typed := strings.ToLower(strings.ReplaceAll(code, "-", ""))
	require.NoError(t, e.svc.ResetWithRecovery(ctx, "k", typed, []byte("fresh-secret")))
	require.NoError(t, e.mock.ExpectationsWereMet())

	_, err = e.svc.Session(ctx, token)
	assert.ErrorIs(t, err, common.ErrSessionRevoked)

	issued, err := e.svc.Login(ctx, "k", []byte("fresh-secret"))
	require.NoError(t, err)

	got, err := e.svc.GetCredential(ctx, issued.Token, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)
	assert.Equal(t, "pin 1234", got.Notes)

	// the code is single use
	err = e.svc.ResetWithRecovery(ctx, "k", code, []byte("another"))
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestResetWithRecovery_ReplacedCodeIsDead(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "s3cret")

	first, err := e.svc.GenerateRecovery(ctx, token)
	require.NoError(t, err)
	_, err = e.svc.GenerateRecovery(ctx, token)
	require.NoError(t, err)

	err = e.svc.ResetWithRecovery(ctx, "k", first, []byte("new"))
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestResetWithRecovery_Failures(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	token := e.registerAndLogin(t, "s3cret")

	_, err := e.svc.GenerateRecovery(ctx, token)
	require.NoError(t, err)

	err = e.svc.ResetWithRecovery(ctx, "k", "not-a-code", []byte("new"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	err = e.svc.ResetWithRecovery(ctx, "k", "AAAA-AAAA-AAAA-AAAA-AAAA", nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	for i := 0; i < 4; i++ {
		err = e.svc.ResetWithRecovery(ctx, "k", "AAAA-BBBB-CCCC-DDDD-EEEE", []byte("new"))
		require.ErrorIs(t, err, common.ErrAuthenticationFailed)
	}

	err = e.svc.ResetWithRecovery(ctx, "k", "AAAA-BBBB-CCCC-DDDD-EEEE", []byte("new"))
	assert.ErrorIs(t, err, common.ErrRateLimited)
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestResetWithRecovery_NoRecoveryConfigured(t *testing.T) {
	e := newTestEnv(t)
	e.registerAndLogin(t, "s3cret")

	err := e.svc.ResetWithRecovery(context.Background(), "k", "AAAA-BBBB-CCCC-DDDD-EEEE", []byte("new"))
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestResetWithRecovery_NoOwner(t *testing.T) {
	e := newTestEnv(t)

	err := e.svc.ResetWithRecovery(context.Background(), "k", "AAAA-BBBB-CCCC-DDDD-EEEE", []byte("new"))
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
}

func TestChangeSecret_WaitsForLoginInFlight(t *testing.T) {
	repos := newFakeRepoManager()
	gate := newGatedStore(repos.sessions)
	repos.store = gate

	e := newTestEnvWith(t, repos)
	ctx := context.Background()
	token := e.registerAndLogin(t, "old-secret")
	seedCredential(t, e, token)

	gate.armed.Store(true)

	var issued *sessions.Issued
	loginDone := make(chan error, 1)
	go func() {
		var err error
		issued, err = e.svc.Login(ctx, "10.0.0.1", []byte("old-secret"))
		loginDone <- err
	}()
	<-gate.entered

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()

	changeDone := make(chan error, 1)
	go func() {
		changeDone <- e.svc.ChangeSecret(ctx, "10.0.0.2", token, []byte("old-secret"), []byte("new-secret"))
	}()

	assert.Never(t, func() bool { return len(changeDone) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"rotation must not commit under a login that is still opening its session")

	gate.armed.Store(false)
	close(gate.release)

	require.NoError(t, <-loginDone)
	require.NoError(t, <-changeDone)
	require.NoError(t, e.mock.ExpectationsWereMet())

	// the session opened with the old secret went down with the rotation
	_, err := e.svc.AddCredential(ctx, issued.Token, CredentialInput{
		Website:  "late.example.com",
		Username: "bob",
		Password: "stale",
	})
	assert.ErrorIs(t, err, common.ErrSessionRevoked)
	assert.Equal(t, 0, e.svc.keyring.Len())

	fresh, err := e.svc.Login(ctx, "10.0.0.1", []byte("new-secret"))
	require.NoError(t, err)

	list, err := e.svc.ListCredentials(ctx, fresh.Token)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hunter2", list[0].Password)
}
