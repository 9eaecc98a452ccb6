package database

import (
	"context"
	"fmt"
	"time"
)

// Migration is one versioned schema step. Versions are
// YYYYMMDD_HHMMSS strings so lexical order matches time order.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// migrations is the full schema history, oldest first. Append only;
// never edit an entry that has shipped.
var migrations = []Migration{
	{
		Version: "20260115_090000",
		Name:    "dp_history",
		SQL: `
			CREATE TABLE IF NOT EXISTS dp_history (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				target_id   TEXT    NOT NULL,
				dp_id       INTEGER NOT NULL,
				data        TEXT    NOT NULL,
				summary     TEXT    NOT NULL,
				reported_ts INTEGER NOT NULL,
				recorded_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			);
			CREATE INDEX IF NOT EXISTS idx_dp_history_target
				ON dp_history (target_id, recorded_at DESC);
		`,
	},
	{
		Version: "20260212_140000",
		Name:    "dp_history_dp_index",
		SQL: `
			CREATE INDEX IF NOT EXISTS idx_dp_history_target_dp
				ON dp_history (target_id, dp_id, recorded_at DESC);
		`,
	},
}

// Migrate applies all pending migrations in version order. Each
// migration runs in its own transaction: a failure rolls that step
// back, keeps earlier steps committed, and re-running Migrate after a
// fix continues from the failed step.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If any migration fails (that migration is rolled back)
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// createMigrationsTable creates the schema_migrations table if it doesn't exist.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// appliedVersions returns the set of migration versions already applied.
func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return applied, nil
}

// applyMigration applies a single migration within a transaction.
func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}
