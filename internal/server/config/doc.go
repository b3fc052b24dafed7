// Package config loads runtime configuration for the vault server.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJSON) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN
//	-t int      session lifetime, minutes
//	-w int      failed-login window, minutes
//	-n int      failed logins inside the window that block a client
//	-k int      concurrent Argon2id/PBKDF2 jobs
//	-i int      session sweep interval, minutes (0 disables sweeping)
//	-r int      PBKDF2 rounds per field key
//
// # JSON schema
//
// Durations use timex.Duration, so they may be strings like "15m" or
// integer nanoseconds. Keys that are absent keep their default:
//
//	{
//	  "endpoint_addr_grpc": ":50051",
//	  "database_dsn": "postgres://...",
//	  "session_ttl": "30m",
//	  "rate_limit_window": "15m",
//	  "rate_limit_threshold": 5,
//	  "hash_workers": 4,
//	  "sweep_interval": "10m",
//	  "kdf_iterations": 100000
//	}
package config
