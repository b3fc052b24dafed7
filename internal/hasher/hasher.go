// Package hasher produces and checks memory-hard Argon2id hashes of the
// master secret and of recovery codes.
//
// Hashes are self-describing PHC strings:
//
//	$argon2id$v=19$m=65536,t=2,p=4$<salt>$<digest>
//
// where salt and digest use unpadded standard base64. Verification reads
// the parameters from the string itself, so hashes created with older
// settings keep verifying after the defaults change.
package hasher

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	algorithm = "argon2id"

	// Upper bounds applied to parameters parsed from stored hashes.
	maxMemoryKiB = 4 * 1024 * 1024
	maxTime      = 64
	maxKeyLen    = 128
)

// Params are the Argon2id cost settings.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

// DefaultParams is the production cost floor.
var DefaultParams = Params{
	Time:      2,
	MemoryKiB: 64 * 1024,
	Threads:   4,
	KeyLen:    32,
	SaltLen:   16,
}

// Hasher hashes and verifies secrets. It is safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher validates p against DefaultParams and returns a Hasher.
func NewHasher(p Params) (*Hasher, error) {
	if p.Time < DefaultParams.Time ||
		p.MemoryKiB < DefaultParams.MemoryKiB ||
		p.Threads != DefaultParams.Threads ||
		p.KeyLen != DefaultParams.KeyLen ||
		p.SaltLen != DefaultParams.SaltLen {
		return nil, fmt.Errorf("%w: argon2id parameters below floor", common.ErrInvalidInput)
	}
	if p.Time > maxTime || p.MemoryKiB > maxMemoryKiB {
		return nil, fmt.Errorf("%w: argon2id parameters above bound", common.ErrInvalidInput)
	}
	return &Hasher{params: p}, nil
}

// Default returns a Hasher configured with DefaultParams.
func Default() *Hasher {
	return &Hasher{params: DefaultParams}
}

// NewUnchecked skips the floor check. It exists for tests that need cheap
// parameters and must not be used to hash real secrets.
func NewUnchecked(p Params) *Hasher {
	return &Hasher{params: p}
}

// Params returns the parameters new hashes are created with.
func (h *Hasher) Params() Params {
	return h.params
}

// Hash derives an Argon2id digest of secret under a fresh random salt and
// returns it in PHC string form.
func (h *Hasher) Hash(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", common.ErrInvalidInput
	}

	salt, err := common.RandomBytes(int(h.params.SaltLen))
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	p := h.params
	digest := argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
	defer common.WipeByteArray(digest)

	return encode(p, salt, digest), nil
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// a hash string that cannot be parsed yields common.ErrInvalidHashFormat.
func (h *Hasher) Verify(secret []byte, encoded string) (bool, error) {
	if len(secret) == 0 {
		return false, common.ErrInvalidInput
	}

	p, salt, want, err := decode(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
	defer common.WipeByteArray(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func encode(p Params, salt, digest []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm, argon2.Version,
		p.MemoryKiB, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)
}

func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return p, nil, nil, common.ErrInvalidHashFormat
	}

	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, nil, nil, fmt.Errorf("%w: unsupported version", common.ErrInvalidHashFormat)
	}

	if err := parseCost(parts[3], &p); err != nil {
		return p, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return p, nil, nil, fmt.Errorf("%w: bad salt", common.ErrInvalidHashFormat)
	}

	digest, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(digest) < 16 || len(digest) > maxKeyLen {
		return p, nil, nil, fmt.Errorf("%w: bad digest", common.ErrInvalidHashFormat)
	}

	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(digest))

	return p, salt, digest, nil
}

// parseCost reads "m=<kib>,t=<iterations>,p=<threads>" in exactly that order.
func parseCost(s string, p *Params) error {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return common.ErrInvalidHashFormat
	}

	values := make([]uint64, 3)
	for i, key := range []string{"m", "t", "p"} {
		name, raw, ok := strings.Cut(fields[i], "=")
		if !ok || name != key {
			return common.ErrInvalidHashFormat
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return common.ErrInvalidHashFormat
		}
		values[i] = v
	}

	m, t, threads := values[0], values[1], values[2]
	if t < 1 || t > maxTime || threads < 1 || threads > 255 || m < 8*threads || m > maxMemoryKiB {
		return fmt.Errorf("%w: parameters out of range", common.ErrInvalidHashFormat)
	}

	p.MemoryKiB = uint32(m)
	p.Time = uint32(t)
	p.Threads = uint8(threads)
	return nil
}
