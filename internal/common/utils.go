package common

import (
	"crypto/rand"
	"encoding/hex"
)

// MakeRandHexString returns size random bytes encoded as hex (2*size chars).
func MakeRandHexString(size int) (string, error) {
	b, err := RandomBytes(size)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RandomBytes reads n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// WipeByteArray overwrites b with zeros. It is nil-safe.
//
// The slice is wiped in place, so callers must not pass a slice that is
// still shared with data they intend to keep.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
