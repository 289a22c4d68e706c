package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever the DDL below changes.
const SchemaVersion = "1"

// CreateSchema creates the snapshot tables in one transaction. It is safe to
// call on an existing database.
//
// Must be called with PRAGMA foreign_keys = ON so snapshot deletes cascade.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []struct {
		name string
		ddl  string
	}{
		{"schema_metadata", createMetadataTable},
		{"snapshots", createSnapshotsTable},
		{"nodes", createNodesTable},
		{"edges", createEdgesTable},
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, table.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}
	for i, idx := range indexes {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index %d: %w", i+1, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_metadata (key, value, updated_at) VALUES ('schema_version', ?, ?)
		ON CONFLICT(key) DO NOTHING`, SchemaVersion, now); err != nil {
		return fmt.Errorf("failed to bootstrap schema_metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the stored schema version, or "0" for a database
// that has never been initialised.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_metadata'").Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check schema_metadata existence: %w", err)
	}
	if exists == 0 {
		return "0", nil
	}

	var version string
	err = db.QueryRowContext(ctx, "SELECT value FROM schema_metadata WHERE key = 'schema_version'").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("schema_version key not found in schema_metadata")
	}
	if err != nil {
		return "", fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

const createMetadataTable = `
CREATE TABLE IF NOT EXISTS schema_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
)
`

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS snapshots (
    repo_id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    generated_at TEXT NOT NULL,                  -- RFC 3339, nanosecond precision
    revision_tag TEXT NOT NULL DEFAULT '',
    node_count INTEGER NOT NULL DEFAULT 0,
    edge_count INTEGER NOT NULL DEFAULT 0
)
`

const createNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
    repo_id TEXT NOT NULL,
    node_id TEXT NOT NULL,                       -- hex NodeID
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    language TEXT NOT NULL,
    file_path TEXT NOT NULL,
    start_byte INTEGER NOT NULL,
    end_byte INTEGER NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    start_col INTEGER NOT NULL,
    end_col INTEGER NOT NULL,
    signature TEXT NOT NULL DEFAULT '',
    metadata TEXT,                               -- JSON object, NULL when empty
    PRIMARY KEY (repo_id, node_id),
    FOREIGN KEY (repo_id) REFERENCES snapshots(repo_id) ON DELETE CASCADE
)
`

const createEdgesTable = `
CREATE TABLE IF NOT EXISTS edges (
    repo_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    PRIMARY KEY (repo_id, source_id, target_id, kind),
    FOREIGN KEY (repo_id) REFERENCES snapshots(repo_id) ON DELETE CASCADE
)
`

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(repo_id, file_path)",
	"CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(repo_id, name)",
	"CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(repo_id, target_id)",
}
