package storage

import (
	"context"
	"time"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// Storage is the keyword store: chunk records plus the FTS5 inverted index
// kept in sync with them.
type Storage interface {
	// Chunk operations
	UpsertChunks(ctx context.Context, chunks []*types.Chunk) (int, error)
	GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error)
	GetChunks(ctx context.Context, chunkIDs []string) (map[string]*types.Chunk, error)
	GetByEntity(ctx context.Context, entityID string) ([]*types.Chunk, error)
	GetByType(ctx context.Context, entityID, documentType string) ([]*types.Chunk, error)
	ListEntities(ctx context.Context) ([]string, error)
	ListChunkRefs(ctx context.Context, entityID string) ([]ChunkRef, error)
	CountChunks(ctx context.Context) (int, error)
	DeleteByEntity(ctx context.Context, entityID string) (int, error)
	DeleteAll(ctx context.Context) (int, error)

	// Search operations
	SearchText(ctx context.Context, query string, limit int, entityID string) ([]TextResult, error)
	Snippet(ctx context.Context, chunkID, query string) (string, error)

	// Build history
	RecordBuild(ctx context.Context, record *BuildRecord) error
	LastBuild(ctx context.Context) (*BuildRecord, error)

	// Maintenance
	IntegrityCheck(ctx context.Context) error
	GetStatus(ctx context.Context) (*Status, error)

	// Transaction support
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction. Once a Tx is open on the single
// connection, all reads and writes must go through it until Commit or
// Rollback.
type Tx interface {
	Storage
	Commit() error
	Rollback() error
}

// TextResult is a BM25 ranked keyword hit
type TextResult struct {
	Chunk   types.Chunk
	Score   float64 // -bm25(), higher is better
	Snippet string
}

// ChunkRef identifies an indexed chunk and the hash of its content
type ChunkRef struct {
	ChunkID     string
	EntityID    string
	ContentHash string
}

// BuildRecord is one row of the build history
type BuildRecord struct {
	RunID          string          `json:"run_id"`
	Mode           types.BuildMode `json:"mode"`
	Scope          string          `json:"scope,omitempty"`
	Documents      int             `json:"documents"`
	ChunksAdded    int             `json:"chunks_added"`
	ChunksRemoved  int             `json:"chunks_removed"`
	ChunkCount     int             `json:"chunk_count"` // keyword store size after the build
	EmbeddingModel string          `json:"embedding_model"`
	VectorChecksum string          `json:"vector_checksum"`
	Warnings       int             `json:"warnings"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
}

// Status contains keyword store statistics
type Status struct {
	SchemaVersion string       `json:"schema_version"`
	Driver        string       `json:"driver"`
	ChunkCount    int          `json:"chunk_count"`
	EntityCount   int          `json:"entity_count"`
	DocumentCount int          `json:"document_count"`
	SizeBytes     int64        `json:"size_bytes"`
	LastBuild     *BuildRecord `json:"last_build,omitempty"` // nil before the first recorded build
}

// NewBuildRecord converts a finished build report into a history row
func NewBuildRecord(report *types.BuildReport, chunkCount int, model, checksum string) *BuildRecord {
	return &BuildRecord{
		RunID:          report.RunID,
		Mode:           report.Mode,
		Scope:          report.Scope,
		Documents:      report.Documents,
		ChunksAdded:    report.ChunksAdded,
		ChunksRemoved:  report.ChunksRemoved,
		ChunkCount:     chunkCount,
		EmbeddingModel: model,
		VectorChecksum: checksum,
		Warnings:       len(report.Warnings),
		StartedAt:      report.StartedAt,
		Duration:       report.Duration,
	}
}
