package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
)

// parseFlags overrides config with the short flags present in args.
// Duration flags are whole minutes. Parse errors panic.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-t", "-w", "-n", "-k", "-i", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session lifetime (in minutes)")
	window := fs.Int("w", int(config.RateLimitWindow.Minutes()), "failed login window (in minutes)")
	fs.IntVar(&config.RateLimitThreshold, "n", config.RateLimitThreshold, "failed logins that block a client")
	fs.IntVar(&config.HashWorkers, "k", config.HashWorkers, "concurrent hashing jobs")
	sweep := fs.Int("i", int(config.SweepInterval.Minutes()), "session sweep interval (in minutes)")
	fs.IntVar(&config.KDFIterations, "r", config.KDFIterations, "PBKDF2 iterations")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Durations change only when their flag is set; JSON values may be
	// finer than a minute.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
		case "w":
			config.RateLimitWindow = time.Duration(*window) * time.Minute
		case "i":
			config.SweepInterval = time.Duration(*sweep) * time.Minute
		}
	})
}
