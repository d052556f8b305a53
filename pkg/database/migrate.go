package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationSet is the ordered schema of one package
type MigrationSet struct {
	Component  string
	Migrations []Migration
}

// Migrate applies pending migrations. Sets run in the order given, so a
// set may reference tables created by an earlier one. Each migration runs
// in its own transaction together with its bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, logger *logrus.Logger, sets ...MigrationSet) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			component TEXT NOT NULL,
			version INT NOT NULL,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (component, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, set := range sets {
		for _, migration := range set.Migrations {
			if applied[set.Component][migration.Version] {
				continue
			}

			log := logger.WithFields(logrus.Fields{
				"component": set.Component,
				"version":   migration.Version,
			})
			log.Infof("running migration: %s", migration.Description)

			if err := applyMigration(ctx, db, set.Component, migration); err != nil {
				return err
			}
			log.Info("migration completed")
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT component, version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]map[int]bool)
	for rows.Next() {
		var component string
		var version int
		if err := rows.Scan(&component, &version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		if applied[component] == nil {
			applied[component] = make(map[int]bool)
		}
		applied[component][version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, component string, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s/%d: %w", component, migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)",
		component, migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %s/%d: %w", component, migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s/%d: %w", component, migration.Version, err)
	}
	return nil
}
