package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/shaharia-lab/dispatchd/internal/config"
	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// openStore creates the data directory and opens the SQLite record store.
func openStore(cfg *config.AppConfig, logger *slog.Logger) (*sql.DB, *storage.SQLiteNotificationStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	db, fresh, err := storage.NewSQLiteDB(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if fresh {
		logger.Info("created notification database", "path", cfg.DBPath())
	}
	return db, storage.NewSQLiteNotificationStore(db), nil
}

// loadRegistry reads the providers file and builds the provider registry.
func loadRegistry(ctx context.Context, cfg *config.AppConfig) (*notification.Registry, error) {
	providersCfg, err := config.LoadProvidersConfig(cfg.ProvidersFile())
	if err != nil {
		return nil, err
	}
	registry, err := notification.NewRegistryFromConfig(ctx, *providersCfg)
	if err != nil {
		return nil, fmt.Errorf("building provider registry: %w", err)
	}
	return registry, nil
}
