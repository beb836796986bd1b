// Package cli provides common CLI initialization utilities shared by
// cmd/budget and cmd/budget-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budget/internal/config"
	applog "budget/internal/log"
	"budget/internal/storage"
)

// SetupLogger initializes structured logging at the given LOG_LEVEL and
// makes it the default slog logger.
func SetupLogger(level, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(level),
		Component: component,
	})
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Bootstrap loads .env and the environment, sets up logging and validates
// the configuration with validate. The process exits on invalid config.
func Bootstrap(component string, validate func(*config.Config) error) (*config.Config, *applog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg.LogLevel, component)

	if err := validate(cfg); err != nil {
		logger.Error("Configuration validation failed",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeConfiguration).ToSlice()...)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite opens the ledger database, running migrations first.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *applog.Logger, cfg *config.Config) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, storage.WithBusyRetries(cfg.SQLiteBusyRetries))
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			applog.NewFields().WithError(err).WithErrorType(applog.ErrorTypeDatabase).ToSlice()...)
		os.Exit(1)
	}
	logger.Info("SQLite repository ready", "path", cfg.SQLiteDBPath)
	return repo
}

// GracefulShutdown installs SIGINT/SIGTERM handling. On the first signal it
// runs cleanup with a context bounded by timeout, then cancels the returned
// context and closes done.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		cancel()

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
