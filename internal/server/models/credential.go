package models

import "time"

// SecurityLevel mirrors password strength: calm is strong, critical is weak.
type SecurityLevel string

const (
	SecurityCalm     SecurityLevel = "calm"
	SecurityAlert    SecurityLevel = "alert"
	SecurityCritical SecurityLevel = "critical"
)

// Credential is a stored website login. Password and Notes hold encrypted
// field blobs; Notes is empty when the owner left it blank.
type Credential struct {
	ID            string
	OwnerID       string
	Website       string
	Username      string
	Password      string
	Notes         string
	SecurityLevel SecurityLevel
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
