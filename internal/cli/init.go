// Package cli provides the initialization steps shared by the wastewatch
// commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"wastewatch/internal/config"
	"wastewatch/internal/core"
	"wastewatch/internal/log"
	"wastewatch/internal/sheets"
	gsheet "wastewatch/internal/sheets/google"
	"wastewatch/internal/sheets/memory"
	"wastewatch/internal/storage"
)

// SetupLogger builds a text logger at level and installs it as the
// process default. An unknown level falls back to info.
func SetupLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.New(log.Config{Level: lvl, Component: log.ComponentApp, Output: os.Stdout})
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is not an
// error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Store is the record store chosen by configuration.
type Store struct {
	Records sheets.RecordStore
	// Ready is nil for stores that cannot become unreachable.
	Ready interface {
		Ping(ctx context.Context) error
	}
	Close func() error
}

// InitStore opens the record store named by cfg.DataBackend.
func InitStore(logger *log.Logger, cfg *config.Config) (*Store, error) {
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
		}
		logger.Info("Initialized SQLite backend", "path", cfg.SQLiteDBPath)
		return &Store{Records: repo, Ready: repo, Close: repo.Close}, nil
	case "memory", "":
		logger.Info("Initialized memory backend")
		return &Store{Records: memory.New(nil), Close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.DataBackend)
	}
}

// InitCompartments loads the compartment layout, or the default one.
func InitCompartments(logger *log.Logger, cfg *config.Config) ([]core.Compartment, error) {
	comps, err := config.LoadCompartments(cfg.CompartmentsFile)
	if err != nil {
		return nil, err
	}
	if cfg.CompartmentsFile != "" {
		logger.Info("Loaded compartment layout", "path", cfg.CompartmentsFile, "compartments", len(comps))
	}
	return comps, nil
}

// SeedSource returns where an empty dataset is seeded from: the Google
// sheet when configured, else the seed file, else nothing.
func SeedSource(ctx context.Context, logger *log.Logger, cfg *config.Config) (sheets.SeedReader, error) {
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize Google Sheets client: %w", err)
		}
		logger.Info("Seeding from Google Sheets", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
		return client, nil
	}
	if cfg.SeedFile != "" {
		logger.Info("Seeding from file", "path", cfg.SeedFile)
		return memory.FileSeed{Path: cfg.SeedFile}, nil
	}
	return nil, nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM.
func GracefulShutdown(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
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
