// Package recovery issues and redeems one-time recovery codes.
//
// A code has the shape XXXX-XXXX-XXXX-XXXX-XXXX over A-Z and 0-9. Only its
// Argon2id hash is stored, together with an escrow: the master secret sealed
// under a cipher keyed by the code. Redeeming the code opens the escrow and
// gives back a cipher for the existing vault data, so the owner can set a
// new master secret without losing records.
package recovery

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/hasher"
	"github.com/dmitrijs2005/vaultcore/internal/vaultcipher"
)

const (
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	groups     = 5
	groupSize  = 4
	codeLength = groups * groupSize
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){4}$`)

// Record is what gets persisted for an issued code.
type Record struct {
	CodeHash string
	Escrow   string
}

// Issued is the result of Issue. Code is shown to the owner once and must
// not be stored.
type Issued struct {
	Code   string
	Record Record
}

// Service hashes codes and manages escrows.
type Service struct {
	hasher     *hasher.Hasher
	cipherOpts []vaultcipher.Option
}

// NewService returns a Service. cipherOpts are applied to the cipher keyed
// by the code, which seals and opens the escrow.
func NewService(h *hasher.Hasher, cipherOpts ...vaultcipher.Option) *Service {
	return &Service{hasher: h, cipherOpts: cipherOpts}
}

// Generate draws a fresh code from crypto/rand.
func Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(codeLength + groups - 1)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < codeLength; i++ {
		if i > 0 && i%groupSize == 0 {
			sb.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate recovery code: %w", err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}

	return sb.String(), nil
}

// Normalize trims and upper-cases code; twenty bare symbols are regrouped.
// Anything that does not then have the canonical shape is ErrInvalidInput.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))

	if len(c) == codeLength && !strings.Contains(c, "-") {
		parts := make([]string, 0, groups)
		for i := 0; i < codeLength; i += groupSize {
			parts = append(parts, c[i:i+groupSize])
		}
		c = strings.Join(parts, "-")
	}

	if !codePattern.MatchString(c) {
		return "", fmt.Errorf("%w: malformed recovery code", common.ErrInvalidInput)
	}
	return c, nil
}

// Hash normalizes and hashes code.
func (s *Service) Hash(code string) (string, error) {
	c, err := Normalize(code)
	if err != nil {
		return "", err
	}
	return s.hasher.Hash([]byte(c))
}

// Verify normalizes code and checks it against hash.
func (s *Service) Verify(code, hash string) (bool, error) {
	c, err := Normalize(code)
	if err != nil {
		return false, err
	}
	return s.hasher.Verify([]byte(c), hash)
}

// Issue creates a code for the vault unlocked by master and seals the
// master secret under it.
func (s *Service) Issue(master *vaultcipher.Cipher) (Issued, error) {
	code, err := Generate()
	if err != nil {
		return Issued{}, err
	}

	hash, err := s.hasher.Hash([]byte(code))
	if err != nil {
		return Issued{}, fmt.Errorf("hash recovery code: %w", err)
	}

	escrowKey, err := s.codeCipher(code)
	if err != nil {
		return Issued{}, err
	}
	defer escrowKey.Destroy()

	escrow, err := master.Seal(escrowKey)
	if err != nil {
		return Issued{}, fmt.Errorf("seal escrow: %w", err)
	}

	return Issued{Code: code, Record: Record{CodeHash: hash, Escrow: escrow}}, nil
}

// Recover checks code against rec and returns a cipher bound to the master
// secret held in the escrow. A wrong code is ErrAuthenticationFailed.
func (s *Service) Recover(code string, rec Record) (*vaultcipher.Cipher, error) {
	c, err := Normalize(code)
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify([]byte(c), rec.CodeHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrAuthenticationFailed
	}

	escrowKey, err := s.codeCipher(c)
	if err != nil {
		return nil, err
	}
	defer escrowKey.Destroy()

	master, err := vaultcipher.OpenSealed(rec.Escrow, escrowKey)
	if err != nil {
		return nil, fmt.Errorf("open escrow: %w", err)
	}
	return master, nil
}

func (s *Service) codeCipher(code string) (*vaultcipher.Cipher, error) {
	return vaultcipher.New([]byte(code), s.cipherOpts...)
}
