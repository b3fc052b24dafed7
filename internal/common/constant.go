// Package common contains shared constants, sentinel errors and small
// helpers used across the vault core and server components.
package common

// SessionTokenHeaderName is the gRPC metadata key that carries the opaque
// session token on inbound requests.
const SessionTokenHeaderName = "session_token"
