package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(MemoryPath)
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func newChunk(entity, docType, date string, seq int, content string) *types.Chunk {
	ch := &types.Chunk{
		Sequence:     seq,
		Content:      content,
		EntityID:     entity,
		DocumentType: docType,
		DocumentDate: date,
		SourcePath:   filepath.Join(entity, docType+"_"+date+".txt"),
	}
	ch.AssignID()
	return ch
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)

	version, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
	assert.Equal(t, MemoryPath, storage.Path())
}

func TestNewSQLiteStorage_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "keyword.db")

	storage, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	_, err = storage.UpsertChunks(ctx, []*types.Chunk{
		newChunk("P1", "lab", "2024-01-01", 0, "Hemoglobin A1c 7.2 percent"),
	})
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := reopened.SearchText(ctx, "hemoglobin", 5, "")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestUpsertChunks_ReplacesByID(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	first := newChunk("P1", "progress_note", "2024-03-01", 0, "Patient reports chest pain on exertion")
	other := newChunk("P1", "progress_note", "2024-03-01", 1, "Plan: stress test next week")
	n, err := storage.UpsertChunks(ctx, []*types.Chunk{first, other})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	replacement := newChunk("P1", "progress_note", "2024-03-01", 0, "Patient denies dyspnea")
	require.Equal(t, first.ID, replacement.ID)
	_, err = storage.UpsertChunks(ctx, []*types.Chunk{replacement})
	require.NoError(t, err)

	count, err := storage.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-adding an id must not duplicate it")

	got, err := storage.GetChunk(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Patient denies dyspnea", got.Content)

	// Old postings are gone, new ones are searchable
	results, err := storage.SearchText(ctx, "chest", 10, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = storage.SearchText(ctx, "dyspnea", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, first.ID, results[0].Chunk.ID)

	require.NoError(t, storage.IntegrityCheck(ctx))
}

func TestUpsertChunks_UnchangedIsNoop(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	ch := newChunk("P1", "lab", "2024-01-01", 0, "Lipid panel within normal limits")
	_, err := storage.UpsertChunks(ctx, []*types.Chunk{ch})
	require.NoError(t, err)
	_, err = storage.UpsertChunks(ctx, []*types.Chunk{ch})
	require.NoError(t, err)

	refs, err := storage.ListChunkRefs(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ch.ContentHash(), refs[0].ContentHash)
	require.NoError(t, storage.IntegrityCheck(ctx))
}

func TestUpsertChunks_InvalidRollsBack(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	good := newChunk("P1", "lab", "2024-01-01", 0, "Sodium 140")
	bad := newChunk("P1", "lab", "2024-01-01", 1, "   ")

	_, err := storage.UpsertChunks(ctx, []*types.Chunk{good, bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	count, err := storage.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetChunk_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetChunk(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetChunks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := newChunk("P1", "lab", "2024-01-01", 0, "Potassium 4.1")
	b := newChunk("P2", "lab", "2024-01-02", 0, "Potassium 5.9 high")
	_, err := storage.UpsertChunks(ctx, []*types.Chunk{a, b})
	require.NoError(t, err)

	got, err := storage.GetChunks(ctx, []string{a.ID, "missing", b.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Potassium 4.1", got[a.ID].Content)
	assert.Equal(t, "P2", got[b.ID].EntityID)

	empty, err := storage.GetChunks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetByEntityAndType(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	chunks := []*types.Chunk{
		newChunk("P1", "progress_note", "2024-02-01", 2, "Follow up visit part three"),
		newChunk("P1", "lab", "2024-01-15", 0, "CBC unremarkable"),
		newChunk("P1", "imaging", "2024-03-01", 0, "Chest radiograph clear"),
		newChunk("P1", "progress_note", "2024-02-01", 10, "Follow up visit addendum"),
		newChunk("P1", "progress_note", "2024-02-01", 0, "Follow up visit part one"),
		newChunk("P2", "lab", "2024-01-15", 0, "CBC shows anemia"),
	}
	_, err := storage.UpsertChunks(ctx, chunks)
	require.NoError(t, err)

	// chunk_id order, not document order: the later imaging study sorts
	// first and sequence 10 sorts before sequence 2.
	p1, err := storage.GetByEntity(ctx, "P1")
	require.NoError(t, err)
	var ids []string
	for _, ch := range p1 {
		assert.Equal(t, "P1", ch.EntityID)
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{
		"P1_imaging_2024-03-01_0",
		"P1_lab_2024-01-15_0",
		"P1_progress_note_2024-02-01_0",
		"P1_progress_note_2024-02-01_10",
		"P1_progress_note_2024-02-01_2",
	}, ids)

	notes, err := storage.GetByType(ctx, "P1", "progress_note")
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, "P1_progress_note_2024-02-01_0", notes[0].ID)
	assert.Equal(t, "P1_progress_note_2024-02-01_10", notes[1].ID)
	assert.Equal(t, "P1_progress_note_2024-02-01_2", notes[2].ID)

	none, err := storage.GetByType(ctx, "P2", "progress_note")
	require.NoError(t, err)
	assert.Empty(t, none)

	entities, err := storage.ListEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, entities)
}

func TestDeleteByEntity(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.UpsertChunks(ctx, []*types.Chunk{
		newChunk("P1", "lab", "2024-01-01", 0, "Creatinine elevated"),
		newChunk("P1", "lab", "2024-01-01", 1, "Creatinine trending down"),
		newChunk("P2", "lab", "2024-01-01", 0, "Creatinine normal"),
	})
	require.NoError(t, err)

	removed, err := storage.DeleteByEntity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	results, err := storage.SearchText(ctx, "creatinine", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "P2", results[0].Chunk.EntityID)

	removed, err = storage.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := storage.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, storage.IntegrityCheck(ctx))
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.UpsertChunks(ctx, []*types.Chunk{
		newChunk("P1", "hra", "2024-01-01", 0, "Smoking status: never"),
	})
	require.NoError(t, err)

	// Rollback leaves the store untouched
	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.DeleteAll(ctx)
	require.NoError(t, err)
	inTx, err := tx.CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, inTx)
	require.NoError(t, tx.Rollback())

	count, err := storage.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Commit applies delete and insert together
	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.DeleteByEntity(ctx, "P1")
	require.NoError(t, err)
	_, err = tx.UpsertChunks(ctx, []*types.Chunk{
		newChunk("P1", "hra", "2024-06-01", 0, "Smoking status: former"),
	})
	require.NoError(t, err)

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err, "nested transactions are rejected")
	require.NoError(t, tx.Commit())

	chunks, err := storage.GetByEntity(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Smoking status: former", chunks[0].Content)
}

func TestBuildHistory(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.LastBuild(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, storage.RecordBuild(ctx, &BuildRecord{
		RunID:      "run-1",
		Mode:       types.BuildFull,
		ChunkCount: 10,
		StartedAt:  started,
		Duration:   1500 * time.Millisecond,
	}))
	require.NoError(t, storage.RecordBuild(ctx, &BuildRecord{
		RunID:          "run-2",
		Mode:           types.BuildScoped,
		Scope:          "P1",
		ChunksAdded:    3,
		ChunksRemoved:  2,
		ChunkCount:     11,
		EmbeddingModel: "local-feature-hash-v1-384",
		VectorChecksum: "abc",
		StartedAt:      started.Add(time.Hour),
		Duration:       250 * time.Millisecond,
	}))

	last, err := storage.LastBuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", last.RunID)
	assert.Equal(t, types.BuildScoped, last.Mode)
	assert.Equal(t, "P1", last.Scope)
	assert.Equal(t, 11, last.ChunkCount)
	assert.Equal(t, "abc", last.VectorChecksum)
	assert.True(t, last.StartedAt.Equal(started.Add(time.Hour)))
	assert.Equal(t, 250*time.Millisecond, last.Duration)
}

func TestNewBuildRecord(t *testing.T) {
	report := &types.BuildReport{
		RunID:         "run-x",
		Mode:          types.BuildUpsert,
		Documents:     4,
		ChunksAdded:   9,
		ChunksRemoved: 1,
		Warnings:      []types.ConsistencyWarning{{ChunkID: "a"}},
		StartedAt:     time.Now(),
		Duration:      time.Second,
	}

	rec := NewBuildRecord(report, 20, "model", "sum")
	assert.Equal(t, "run-x", rec.RunID)
	assert.Equal(t, 4, rec.Documents)
	assert.Equal(t, 20, rec.ChunkCount)
	assert.Equal(t, 1, rec.Warnings)
	assert.Equal(t, "model", rec.EmbeddingModel)
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ChunkCount)
	assert.Nil(t, status.LastBuild)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Equal(t, BuildMode, status.Driver)

	_, err = storage.UpsertChunks(ctx, []*types.Chunk{
		newChunk("P1", "lab", "2024-01-01", 0, "TSH normal"),
		newChunk("P1", "lab", "2024-01-01", 1, "Free T4 normal"),
		newChunk("P2", "imaging", "2024-01-03", 0, "Chest x-ray clear"),
	})
	require.NoError(t, err)
	require.NoError(t, storage.RecordBuild(ctx, &BuildRecord{RunID: "r", Mode: types.BuildFull, StartedAt: time.Now()}))

	status, err = storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ChunkCount)
	assert.Equal(t, 2, status.EntityCount)
	assert.Equal(t, 2, status.DocumentCount)
	assert.Greater(t, status.SizeBytes, int64(0))
	require.NotNil(t, status.LastBuild)
	assert.Equal(t, "r", status.LastBuild.RunID)
}
