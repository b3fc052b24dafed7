// Package server wires the vault together: it loads configuration, opens
// PostgreSQL and applies migrations, builds the vault service, serves the
// gRPC endpoint and sweeps dead sessions until a termination signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/server/config"
	"github.com/dmitrijs2005/vaultcore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultcore/internal/server/services"

	gs "github.com/dmitrijs2005/vaultcore/internal/server/grpc"
)

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 5 * time.Second

// Seams for tests.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepoManager = func() repomanager.RepositoryManager {
		return repomanager.NewPostgresRepositoryManager()
	}
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	vault   *services.VaultService
	options []gs.Option
}

func NewApp(ctx context.Context, c *config.Config, opts ...gs.Option) (*App, error) {
	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)
	return newApp(ctx, c, logger, opts...)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, opts ...gs.Option) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := newRepoManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	vault, err := services.NewVaultService(db, rm, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	return &App{config: c, logger: logger, db: db, vault: vault, options: opts}, nil
}

// Vault returns the service front ends call into.
func (app *App) Vault() *services.VaultService {
	return app.vault
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.vault, app.options...)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startSweeper removes dead sessions every SweepInterval until ctx is done.
func (app *App) startSweeper(ctx context.Context) {
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.vault.SweepSessions(ctx); err != nil {
				app.logger.Error(ctx, "session sweep failed", "error", err)
			}
		}
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startSweeper(ctx)
		}()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close failed", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
