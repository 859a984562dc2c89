package db

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationResult summarises a Migrate run.
type MigrationResult struct {
	Applied int
	Skipped int
}

// Migrate applies every embedded *.up.sql file that is not yet recorded in
// schema_migrations, in filename order.
func (db *DB) Migrate(ctx context.Context) (MigrationResult, error) {
	var res MigrationResult

	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return res, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := MigrationNames()
	if err != nil {
		return res, err
	}

	for _, name := range names {
		var exists bool
		err := db.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name,
		).Scan(&exists)
		if err != nil {
			return res, fmt.Errorf("check applied %s: %w", name, err)
		}
		if exists {
			db.logger.Debug("migration already applied", zap.String("name", name))
			res.Skipped++
			continue
		}

		contents, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", name, err)
		}

		start := time.Now()
		err = db.InTx(ctx, func(tx pgx.Tx) error {
			// simple protocol allows multi-statement files
			if _, err := tx.Exec(ctx, string(contents), pgx.QueryExecModeSimpleProtocol); err != nil {
				return fmt.Errorf("execute %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name,
			); err != nil {
				return fmt.Errorf("mark applied %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return res, err
		}

		res.Applied++
		db.logger.Info("migration applied",
			zap.String("name", name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}

	return res, nil
}

// MigrationNames lists the embedded up-migrations in apply order.
func MigrationNames() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
