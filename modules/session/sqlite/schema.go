package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// Lease times are unix milliseconds.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS leases (
		channel_id  TEXT    PRIMARY KEY,
		owner       TEXT    NOT NULL,
		node        TEXT    NOT NULL DEFAULT '',
		acquired_at INTEGER NOT NULL,
		renewed_at  INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_leases_expires ON leases(expires_at)`,
}

// migrate brings the schema to schemaVersion. Statements are idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("session.sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("session.sqlite: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session.sqlite: begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("session.sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("session.sqlite: record schema version: %w", err)
	}
	return tx.Commit()
}
