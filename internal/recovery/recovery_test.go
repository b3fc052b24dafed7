package recovery

import (
	"regexp"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/hasher"
	"github.com/dmitrijs2005/vaultcore/internal/vaultcipher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shape = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){4}$`)

func newService() *Service {
	h := hasher.NewUnchecked(hasher.Params{Time: 1, MemoryKiB: 64, Threads: 1, KeyLen: 32, SaltLen: 16})
	return NewService(h, vaultcipher.WithIterations(1000))
}

func TestGenerate_Shape(t *testing.T) {
	code, err := Generate()
	require.NoError(t, err)
	assert.Regexp(t, shape, code)
}

func TestGenerate_NoDuplicates(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.Regexp(t, shape, code)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "canonical", in: "ABCD-EFGH-IJKL-MNOP-QR12", want: "ABCD-EFGH-IJKL-MNOP-QR12"},
		{name: "lower case and spaces", in: "  abcd-efgh-ijkl-mnop-qr12\n", want: "ABCD-EFGH-IJKL-MNOP-QR12"},
		{name: "without dashes", in: "abcdefghijklmnopqr12", want: "ABCD-EFGH-IJKL-MNOP-QR12"},
		{name: "empty", in: "", wantErr: true},
		{name: "too short", in: "ABCD-EFGH-IJKL-MNOP", wantErr: true},
		{name: "bad symbol", in: "ABCD-EFGH-IJKL-MNOP-QR1!", wantErr: true},
		{name: "misplaced dash", in: "ABC-DEFGH-IJKL-MNOP-QR12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashVerify(t *testing.T) {
	s := newService()
	code, err := Generate()
	require.NoError(t, err)

	hash, err := s.Hash(code)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := s.Verify(strings.ToLower(code), hash)
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := Generate()
	require.NoError(t, err)
	ok, err = s.Verify(other, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Verify("nope", hash)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestIssueRecover(t *testing.T) {
	s := newService()

	master, err := vaultcipher.New([]byte("old master"), vaultcipher.WithIterations(1000))
	require.NoError(t, err)
	defer master.Destroy()

	field, err := master.EncryptString("hunter2")
	require.NoError(t, err)

	issued, err := s.Issue(master)
	require.NoError(t, err)
	assert.Regexp(t, shape, issued.Code)
	assert.NotContains(t, issued.Record.CodeHash, issued.Code)
	assert.NotEmpty(t, issued.Record.Escrow)

	recovered, err := s.Recover(strings.ToLower(issued.Code), issued.Record)
	require.NoError(t, err)
	defer recovered.Destroy()

	got, err := recovered.DecryptString(field)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestRecover_WrongCode(t *testing.T) {
	s := newService()

	master, err := vaultcipher.New([]byte("old master"), vaultcipher.WithIterations(1000))
	require.NoError(t, err)
	defer master.Destroy()

	issued, err := s.Issue(master)
	require.NoError(t, err)

	other, err := Generate()
	require.NoError(t, err)

	_, err = s.Recover(other, issued.Record)
	assert.ErrorIs(t, err, common.ErrAuthenticationFailed)

	_, err = s.Recover("garbage", issued.Record)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestRecover_CorruptEscrow(t *testing.T) {
	s := newService()

	master, err := vaultcipher.New([]byte("old master"), vaultcipher.WithIterations(1000))
	require.NoError(t, err)
	defer master.Destroy()

	issued, err := s.Issue(master)
	require.NoError(t, err)

	rec := issued.Record
	first := "A"
	if rec.Escrow[0] == 'A' {
		first = "B"
	}
	rec.Escrow = first + rec.Escrow[1:]

	_, err = s.Recover(issued.Code, rec)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)
}
