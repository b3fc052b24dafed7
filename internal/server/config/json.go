package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
	"github.com/dmitrijs2005/vaultcore/internal/timex"
)

// jsonConfig is the on-disk shape. Pointer fields distinguish a missing key
// from an explicit zero.
type jsonConfig struct {
	EndpointAddrGRPC   *string         `json:"endpoint_addr_grpc"`
	DatabaseDSN        *string         `json:"database_dsn"`
	SessionTTL         *timex.Duration `json:"session_ttl"`
	RateLimitWindow    *timex.Duration `json:"rate_limit_window"`
	RateLimitThreshold *int            `json:"rate_limit_threshold"`
	HashWorkers        *int            `json:"hash_workers"`
	SweepInterval      *timex.Duration `json:"sweep_interval"`
	KDFIterations      *int            `json:"kdf_iterations"`
}

// parseJSON overlays values from the file named by -c/-config in args.
// Without such a flag it does nothing. Read or decode failures panic.
func parseJSON(config *Config, args []string) {
	path := flagx.ConfigFile(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrGRPC != nil {
		config.EndpointAddrGRPC = *c.EndpointAddrGRPC
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.SessionTTL != nil {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.RateLimitWindow != nil {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if c.RateLimitThreshold != nil {
		config.RateLimitThreshold = *c.RateLimitThreshold
	}
	if c.HashWorkers != nil {
		config.HashWorkers = *c.HashWorkers
	}
	if c.SweepInterval != nil {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.KDFIterations != nil {
		config.KDFIterations = *c.KDFIterations
	}
}
