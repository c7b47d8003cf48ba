package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    owning_entity_id TEXT NOT NULL,
    document_type TEXT NOT NULL DEFAULT '',
    document_date TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL DEFAULT '',
    section TEXT NOT NULL DEFAULT '',
    sequence_index INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_entity ON chunks(owning_entity_id);
CREATE INDEX IF NOT EXISTS idx_chunks_entity_type ON chunks(owning_entity_id, document_type);

-- External content FTS5 index over chunks. Only content and section are
-- tokenized; the rest rides along for snippet and debugging queries.
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    section,
    chunk_id UNINDEXED,
    owning_entity_id UNINDEXED,
    document_type UNINDEXED,
    document_date UNINDEXED,
    source_path UNINDEXED,
    content='chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- External content tables must be told the old values on delete, so updates
-- are a 'delete' command followed by a fresh insert.
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content, section, chunk_id, owning_entity_id, document_type, document_date, source_path)
    VALUES (new.id, new.content, new.section, new.chunk_id, new.owning_entity_id, new.document_type, new.document_date, new.source_path);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, section, chunk_id, owning_entity_id, document_type, document_date, source_path)
    VALUES ('delete', old.id, old.content, old.section, old.chunk_id, old.owning_entity_id, old.document_type, old.document_date, old.source_path);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, section, chunk_id, owning_entity_id, document_type, document_date, source_path)
    VALUES ('delete', old.id, old.content, old.section, old.chunk_id, old.owning_entity_id, old.document_type, old.document_date, old.source_path);
    INSERT INTO chunks_fts(rowid, content, section, chunk_id, owning_entity_id, document_type, document_date, source_path)
    VALUES (new.id, new.content, new.section, new.chunk_id, new.owning_entity_id, new.document_type, new.document_date, new.source_path);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS chunks_au;
DROP TRIGGER IF EXISTS chunks_ad;
DROP TRIGGER IF EXISTS chunks_ai;
DROP TABLE IF EXISTS chunks_fts;
DROP INDEX IF EXISTS idx_chunks_entity_type;
DROP INDEX IF EXISTS idx_chunks_entity;
DROP TABLE IF EXISTS chunks;
`

const migrationV11Up = `
CREATE TABLE IF NOT EXISTS builds (
    run_id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    scope TEXT NOT NULL DEFAULT '',
    documents INTEGER NOT NULL DEFAULT 0,
    chunks_added INTEGER NOT NULL DEFAULT 0,
    chunks_removed INTEGER NOT NULL DEFAULT 0,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    embedding_model TEXT NOT NULL DEFAULT '',
    vector_checksum TEXT NOT NULL DEFAULT '',
    warnings INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_builds_started;
DROP TABLE IF EXISTS builds;
`

// currentVersion returns the highest applied schema version, 0.0.0 for a
// fresh database.
func currentVersion(ctx context.Context, q querier) (*semver.Version, error) {
	var tableName string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations, each in its own transaction
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	latest := semver.MustParse(CurrentSchemaVersion)
	if current.GreaterThan(latest) {
		return fmt.Errorf("database schema %s is newer than supported %s", current, latest)
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(migrationVersion) {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}

// SchemaVersion returns the applied schema version as a string
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	return schemaVersionWithQuerier(ctx, db)
}

func schemaVersionWithQuerier(ctx context.Context, q querier) (string, error) {
	v, err := currentVersion(ctx, q)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
