package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested chunk or record doesn't exist
	ErrNotFound = errors.New("not found")
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// maxQueryParams keeps IN lists under SQLite's host parameter limit
const maxQueryParams = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the keyword store at dbPath and
// brings its schema up to date. Use MemoryPath for a throwaway store.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Path returns the database location
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Chunk operations

const chunkColumns = `c.chunk_id, c.content, c.owning_entity_id, c.document_type,
	c.document_date, c.source_path, c.section, c.sequence_index`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner, extra ...interface{}) (*types.Chunk, error) {
	var ch types.Chunk
	dest := []interface{}{
		&ch.ID, &ch.Content, &ch.EntityID, &ch.DocumentType,
		&ch.DocumentDate, &ch.SourcePath, &ch.Section, &ch.Sequence,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &ch, nil
}

func collectChunks(rows *sql.Rows) ([]*types.Chunk, error) {
	defer func() { _ = rows.Close() }()

	var chunks []*types.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// upsertChunksWithQuerier inserts or replaces chunks by chunk_id. Rows whose
// content and provenance are unchanged are left alone so their postings are
// not rewritten.
func (s *SQLiteStorage) upsertChunksWithQuerier(ctx context.Context, q querier, chunks []*types.Chunk) (int, error) {
	query := `
		INSERT INTO chunks (
			chunk_id, content, owning_entity_id, document_type, document_date,
			source_path, section, sequence_index, content_hash
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			content = excluded.content,
			owning_entity_id = excluded.owning_entity_id,
			document_type = excluded.document_type,
			document_date = excluded.document_date,
			source_path = excluded.source_path,
			section = excluded.section,
			sequence_index = excluded.sequence_index,
			content_hash = excluded.content_hash,
			updated_at = CURRENT_TIMESTAMP
		WHERE chunks.content_hash <> excluded.content_hash
			OR chunks.section <> excluded.section
			OR chunks.source_path <> excluded.source_path
	`

	for _, ch := range chunks {
		if ch == nil {
			return 0, fmt.Errorf("%w: nil chunk", types.ErrInvalidInput)
		}
		if err := ch.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		_, err := q.ExecContext(ctx, query,
			ch.ID, ch.Content, ch.EntityID, ch.DocumentType, ch.DocumentDate,
			ch.SourcePath, ch.Section, ch.Sequence, ch.ContentHash())
		if err != nil {
			return 0, fmt.Errorf("failed to upsert chunk %s: %w", ch.ID, err)
		}
	}
	return len(chunks), nil
}

// UpsertChunks writes all chunks in one transaction
func (s *SQLiteStorage) UpsertChunks(ctx context.Context, chunks []*types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	n, err := s.upsertChunksWithQuerier(ctx, tx, chunks)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) getChunkWithQuerier(ctx context.Context, q querier, chunkID string) (*types.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks c WHERE c.chunk_id = ?`
	ch, err := scanChunk(q.QueryRowContext(ctx, query, chunkID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", chunkID, err)
	}
	return ch, nil
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), chunkID)
}

// getChunksWithQuerier looks up many ids at once. Missing ids are absent
// from the returned map.
func (s *SQLiteStorage) getChunksWithQuerier(ctx context.Context, q querier, chunkIDs []string) (map[string]*types.Chunk, error) {
	out := make(map[string]*types.Chunk, len(chunkIDs))

	for start := 0; start < len(chunkIDs); start += maxQueryParams {
		batch := chunkIDs[start:min(start+maxQueryParams, len(chunkIDs))]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := q.QueryContext(ctx,
			`SELECT `+chunkColumns+` FROM chunks c WHERE c.chunk_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get chunks: %w", err)
		}
		chunks, err := collectChunks(rows)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			out[ch.ID] = ch
		}
	}
	return out, nil
}

func (s *SQLiteStorage) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*types.Chunk, error) {
	return s.getChunksWithQuerier(ctx, s.querier(), chunkIDs)
}

const entityOrder = ` ORDER BY c.chunk_id`

func (s *SQLiteStorage) getByEntityWithQuerier(ctx context.Context, q querier, entityID string) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.owning_entity_id = ?`+entityOrder, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks for %s: %w", entityID, err)
	}
	return collectChunks(rows)
}

func (s *SQLiteStorage) GetByEntity(ctx context.Context, entityID string) ([]*types.Chunk, error) {
	return s.getByEntityWithQuerier(ctx, s.querier(), entityID)
}

func (s *SQLiteStorage) getByTypeWithQuerier(ctx context.Context, q querier, entityID, documentType string) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.owning_entity_id = ? AND c.document_type = ?`+entityOrder,
		entityID, documentType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s chunks for %s: %w", documentType, entityID, err)
	}
	return collectChunks(rows)
}

func (s *SQLiteStorage) GetByType(ctx context.Context, entityID, documentType string) ([]*types.Chunk, error) {
	return s.getByTypeWithQuerier(ctx, s.querier(), entityID, documentType)
}

func (s *SQLiteStorage) listEntitiesWithQuerier(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT owning_entity_id FROM chunks ORDER BY owning_entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []string
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (s *SQLiteStorage) ListEntities(ctx context.Context) ([]string, error) {
	return s.listEntitiesWithQuerier(ctx, s.querier())
}

// listChunkRefsWithQuerier returns refs ordered by chunk_id; an empty entity
// lists every chunk.
func (s *SQLiteStorage) listChunkRefsWithQuerier(ctx context.Context, q querier, entityID string) ([]ChunkRef, error) {
	query := `SELECT chunk_id, owning_entity_id, content_hash FROM chunks`
	var args []interface{}
	if entityID != "" {
		query += ` WHERE owning_entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY chunk_id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk refs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []ChunkRef
	for rows.Next() {
		var ref ChunkRef
		if err := rows.Scan(&ref.ChunkID, &ref.EntityID, &ref.ContentHash); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *SQLiteStorage) ListChunkRefs(ctx context.Context, entityID string) ([]ChunkRef, error) {
	return s.listChunkRefsWithQuerier(ctx, s.querier(), entityID)
}

func (s *SQLiteStorage) countChunksWithQuerier(ctx context.Context, q querier) (int, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) CountChunks(ctx context.Context) (int, error) {
	return s.countChunksWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) deleteByEntityWithQuerier(ctx context.Context, q querier, entityID string) (int, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE owning_entity_id = ?`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", entityID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) DeleteByEntity(ctx context.Context, entityID string) (int, error) {
	return s.deleteByEntityWithQuerier(ctx, s.querier(), entityID)
}

func (s *SQLiteStorage) deleteAllWithQuerier(ctx context.Context, q querier) (int, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM chunks`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) DeleteAll(ctx context.Context) (int, error) {
	return s.deleteAllWithQuerier(ctx, s.querier())
}

// Build history

func (s *SQLiteStorage) recordBuildWithQuerier(ctx context.Context, q querier, rec *BuildRecord) error {
	query := `
		INSERT OR REPLACE INTO builds (
			run_id, mode, scope, documents, chunks_added, chunks_removed, chunk_count,
			embedding_model, vector_checksum, warnings, started_at, duration_ms
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rec.RunID, string(rec.Mode), rec.Scope, rec.Documents, rec.ChunksAdded, rec.ChunksRemoved,
		rec.ChunkCount, rec.EmbeddingModel, rec.VectorChecksum, rec.Warnings,
		rec.StartedAt.UTC().Format(timeLayout), rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record build %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *SQLiteStorage) RecordBuild(ctx context.Context, record *BuildRecord) error {
	return s.recordBuildWithQuerier(ctx, s.querier(), record)
}

func (s *SQLiteStorage) lastBuildWithQuerier(ctx context.Context, q querier) (*BuildRecord, error) {
	query := `
		SELECT run_id, mode, scope, documents, chunks_added, chunks_removed, chunk_count,
			embedding_model, vector_checksum, warnings, started_at, duration_ms
		FROM builds
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`
	var (
		rec        BuildRecord
		mode       string
		startedAt  string
		durationMs int64
	)
	err := q.QueryRowContext(ctx, query).Scan(
		&rec.RunID, &mode, &rec.Scope, &rec.Documents, &rec.ChunksAdded, &rec.ChunksRemoved,
		&rec.ChunkCount, &rec.EmbeddingModel, &rec.VectorChecksum, &rec.Warnings,
		&startedAt, &durationMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last build: %w", err)
	}

	rec.Mode = types.BuildMode(mode)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.StartedAt, err = time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid build timestamp %q: %w", startedAt, err)
	}
	return &rec, nil
}

func (s *SQLiteStorage) LastBuild(ctx context.Context) (*BuildRecord, error) {
	return s.lastBuildWithQuerier(ctx, s.querier())
}

// Maintenance

// integrityCheckWithQuerier runs SQLite's quick_check and the FTS5
// integrity-check command, which compares the index against the chunks table.
func (s *SQLiteStorage) integrityCheckWithQuerier(ctx context.Context, q querier) error {
	var result string
	if err := q.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return &types.IndexCorruptionError{Path: s.path, Reason: "quick_check failed", Err: err}
	}
	if result != "ok" {
		return &types.IndexCorruptionError{Path: s.path, Reason: "quick_check: " + result}
	}

	if _, err := q.ExecContext(ctx, `INSERT INTO chunks_fts(chunks_fts, rank) VALUES('integrity-check', 1)`); err != nil {
		return &types.IndexCorruptionError{Path: s.path, Reason: "keyword index out of sync with chunks", Err: err}
	}
	return nil
}

func (s *SQLiteStorage) IntegrityCheck(ctx context.Context) error {
	return s.integrityCheckWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	status := &Status{Driver: BuildMode}

	version, err := schemaVersionWithQuerier(ctx, q)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT owning_entity_id), COUNT(DISTINCT source_path)
		FROM chunks
	`).Scan(&status.ChunkCount, &status.EntityCount, &status.DocumentCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	// Database size from page statistics
	var pageCount, pageSize int64
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	status.SizeBytes = pageCount * pageSize

	last, err := s.lastBuildWithQuerier(ctx, q)
	switch {
	case err == nil:
		status.LastBuild = last
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction methods - delegate to storage methods using transaction querier

func (t *sqliteTx) UpsertChunks(ctx context.Context, chunks []*types.Chunk) (int, error) {
	return t.storage.upsertChunksWithQuerier(ctx, t.querier(), chunks)
}

func (t *sqliteTx) GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.querier(), chunkID)
}

func (t *sqliteTx) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*types.Chunk, error) {
	return t.storage.getChunksWithQuerier(ctx, t.querier(), chunkIDs)
}

func (t *sqliteTx) GetByEntity(ctx context.Context, entityID string) ([]*types.Chunk, error) {
	return t.storage.getByEntityWithQuerier(ctx, t.querier(), entityID)
}

func (t *sqliteTx) GetByType(ctx context.Context, entityID, documentType string) ([]*types.Chunk, error) {
	return t.storage.getByTypeWithQuerier(ctx, t.querier(), entityID, documentType)
}

func (t *sqliteTx) ListEntities(ctx context.Context) ([]string, error) {
	return t.storage.listEntitiesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ListChunkRefs(ctx context.Context, entityID string) ([]ChunkRef, error) {
	return t.storage.listChunkRefsWithQuerier(ctx, t.querier(), entityID)
}

func (t *sqliteTx) CountChunks(ctx context.Context) (int, error) {
	return t.storage.countChunksWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeleteByEntity(ctx context.Context, entityID string) (int, error) {
	return t.storage.deleteByEntityWithQuerier(ctx, t.querier(), entityID)
}

func (t *sqliteTx) DeleteAll(ctx context.Context) (int, error) {
	return t.storage.deleteAllWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit int, entityID string) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit, entityID)
}

func (t *sqliteTx) Snippet(ctx context.Context, chunkID, query string) (string, error) {
	return t.storage.snippetWithQuerier(ctx, t.querier(), chunkID, query)
}

func (t *sqliteTx) RecordBuild(ctx context.Context, record *BuildRecord) error {
	return t.storage.recordBuildWithQuerier(ctx, t.querier(), record)
}

func (t *sqliteTx) LastBuild(ctx context.Context) (*BuildRecord, error) {
	return t.storage.lastBuildWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) IntegrityCheck(ctx context.Context) error {
	return t.storage.integrityCheckWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
