package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")

	// ErrInvalidInput is returned for empty or malformed input, before any
	// expensive crypto work is done.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthenticationFailed covers both a wrong secret and a missing vault;
	// callers must not be able to tell the two apart.
	ErrAuthenticationFailed = errors.New("invalid credentials")

	// ErrDecryptionFailed never says which part of the blob was rejected.
	ErrDecryptionFailed = errors.New("decryption failed")

	ErrRateLimited = errors.New("too many failed attempts")

	// Session lifecycle errors.
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidHashFormat means a stored hash string could not be parsed.
	ErrInvalidHashFormat = errors.New("invalid hash format")
)

// RateLimitError carries the backoff window for a blocked client key.
// It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", ErrRateLimited, e.Seconds())
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Seconds returns RetryAfter rounded up to whole seconds.
func (e *RateLimitError) Seconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
