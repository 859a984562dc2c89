package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gabri3lsal3s/ikgaihub/internal/config"
	"github.com/gabri3lsal3s/ikgaihub/internal/db"
	"github.com/gabri3lsal3s/ikgaihub/internal/observ"
)

const migrateTimeout = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	names, err := db.MigrationNames()
	if err != nil {
		return err
	}
	logger.Info("applying migrations", zap.Int("available", len(names)))

	start := time.Now()
	res, err := database.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("migrations complete",
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Duration("took", time.Since(start).Round(time.Millisecond)),
	)
	return nil
}
