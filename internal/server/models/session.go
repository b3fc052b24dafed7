package models

import "time"

// Session is an issued login session. Only the SHA-256 of the bearer token
// is kept.
type Session struct {
	ID        string
	OwnerID   string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the session was explicitly revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// ExpiredAt reports whether the session has reached its expiry at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
