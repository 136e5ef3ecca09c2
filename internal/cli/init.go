// Package cli holds the startup steps of cmd/expense-tracker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"expensetracker/internal/config"
	applog "expensetracker/internal/log"
	"expensetracker/internal/storage"
)

// SetupLogger builds the process logger from LOG_LEVEL and installs it as
// the slog default. Unknown levels fall back to info.
func SetupLogger(level string) *applog.Logger {
	cfg := applog.DefaultConfig()
	if lvl, err := applog.ParseLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens and migrates the ledger database.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *applog.Logger, cfg *config.Config) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(storage.Options{
		Path:         cfg.SQLiteDBPath,
		MaxOpenConns: cfg.DBMaxOpenConns,
		BusyTimeout:  cfg.DBBusyTimeout,
	})
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			applog.NewFields().WithError(err, applog.ErrorTypeStorage).ToSlice()...)
		os.Exit(1)
	}
	return repo
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
