// Package vaultcipher encrypts individual vault fields under keys derived
// from the master secret.
//
// The secret lives in a memguard enclave for the lifetime of a Cipher and is
// decrypted into locked memory only while a field key is being derived.
// Every blob carries its own salt, so each field is sealed under a distinct
// key:
//
//	base64std( salt[16] || nonce[12] || ciphertext || tag[16] )
package vaultcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16
	KeySize   = 32

	// DefaultIterations is the PBKDF2-HMAC-SHA256 round count.
	DefaultIterations = 100_000
)

// ErrCipherDestroyed is returned by every method after Destroy.
var ErrCipherDestroyed = errors.New("cipher destroyed")

// Cipher derives field keys from a guarded master secret.
// It is safe for concurrent use.
type Cipher struct {
	mu         sync.RWMutex
	enclave    *memguard.Enclave
	iterations int
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithIterations overrides the PBKDF2 round count. Values below 1 are ignored.
func WithIterations(n int) Option {
	return func(c *Cipher) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// New moves secret into a memguard enclave. The caller's slice is wiped
// whether or not New succeeds.
func New(secret []byte, opts ...Option) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, common.ErrInvalidInput
	}

	c := &Cipher{iterations: DefaultIterations}
	for _, opt := range opts {
		opt(c)
	}

	// NewEnclave wipes its input.
	c.enclave = memguard.NewEnclave(secret)
	if c.enclave == nil {
		return nil, fmt.Errorf("%w: empty secret", common.ErrInvalidInput)
	}

	return c, nil
}

// Iterations returns the PBKDF2 round count.
func (c *Cipher) Iterations() int {
	return c.iterations
}

// DeriveKey returns the 32-byte PBKDF2 key for salt. The caller owns the
// returned slice and should wipe it after use.
func (c *Cipher) DeriveKey(salt []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.enclave == nil {
		return nil, ErrCipherDestroyed
	}

	buf, err := c.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open enclave: %w", err)
	}
	defer buf.Destroy()

	return pbkdf2.Key(buf.Bytes(), salt, c.iterations, KeySize, sha256.New), nil
}

// Encrypt seals plaintext under a key derived from a fresh salt.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	salt, err := common.RandomBytes(SaltSize)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := c.DeriveKey(salt)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce, err := common.RandomBytes(NonceSize)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, SaltSize+NonceSize+len(plaintext)+TagSize)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Malformed input and
// authentication failures are both reported as common.ErrDecryptionFailed.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) < SaltSize+NonceSize+TagSize {
		return nil, common.ErrDecryptionFailed
	}

	salt := raw[:SaltSize]
	nonce := raw[SaltSize : SaltSize+NonceSize]
	sealed := raw[SaltSize+NonceSize:]

	key, err := c.DeriveKey(salt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}

	return plaintext, nil
}

func (c *Cipher) EncryptString(s string) (string, error) {
	return c.Encrypt([]byte(s))
}

func (c *Cipher) DecryptString(blob string) (string, error) {
	b, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(b)
	return string(b), nil
}

// Seal encrypts this cipher's master secret under another cipher.
func (c *Cipher) Seal(under *Cipher) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.enclave == nil {
		return "", ErrCipherDestroyed
	}

	buf, err := c.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open enclave: %w", err)
	}
	defer buf.Destroy()

	return under.Encrypt(buf.Bytes())
}

// OpenSealed reverses Seal and returns a cipher bound to the escrowed
// secret, using the same round count as under.
func OpenSealed(blob string, under *Cipher) (*Cipher, error) {
	secret, err := under.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	return New(secret, WithIterations(under.iterations))
}

// Destroy releases the enclave. It is idempotent.
func (c *Cipher) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enclave = nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
