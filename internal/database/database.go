package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"atbadges/internal/config"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Connect opens the database, retrying with exponential backoff while the
// server is still coming up, then applies migrations when enabled.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	var manager *Manager

	operation := func() error {
		m, err := NewManager(ctx, cfg, logger)
		if err != nil {
			return err
		}
		manager = m
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Database not ready, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.ConnectRetries)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		path := determineMigrationsPath(cfg.MigrationsPath)
		if err := manager.Migrate(path); err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return manager, nil
}

// determineMigrationsPath falls back to common locations when the configured
// path does not exist.
func determineMigrationsPath(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	candidates := []string{
		"./migrations",
		"../migrations",
		"../../migrations",
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return configPath
}
