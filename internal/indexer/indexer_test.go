package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recordsearch-mcp/internal/embedder"
	"github.com/dshills/recordsearch-mcp/internal/logging"
	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/internal/vectorindex"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

var errPoisoned = errors.New("embedding service rejected input")

// letterEmbedder buckets letters into four axes; content containing
// "poison" fails to embed.
func letterEmbedder() *embedder.FuncEmbedder {
	return embedder.NewFuncEmbedder("letters", 4, func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "poison") {
			return nil, errPoisoned
		}
		v := []float32{1, 0, 0, 0}
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				v[int(r-'a')%4]++
			}
		}
		return v, nil
	})
}

type countingCache struct {
	calls atomic.Int32
}

func (c *countingCache) InvalidateCache() {
	c.calls.Add(1)
}

type fixture struct {
	indexer   *Indexer
	vector    *vectorindex.Index
	keyword   *storage.SQLiteStorage
	vectorDir string
	cache     *countingCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	keyword, err := storage.NewSQLiteStorage(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = keyword.Close() })

	f := &fixture{
		vector:    vectorindex.New(letterEmbedder(), vectorindex.WithLogger(logging.Discard())),
		keyword:   keyword,
		vectorDir: t.TempDir() + "/vector",
		cache:     &countingCache{},
	}
	f.indexer = New(f.vector, keyword, Config{VectorDir: f.vectorDir, Workers: 2},
		WithLogger(logging.Discard()),
		WithCacheInvalidator(f.cache))
	return f
}

func doc(entity, docType, date, path, content string) *types.Document {
	return &types.Document{
		EntityID:     entity,
		DocumentType: docType,
		DocumentDate: date,
		SourcePath:   path,
		Content:      content,
	}
}

func corpus() []*types.Document {
	return []*types.Document{
		doc("P1", "other", "2024-01-10", "P1/b_note.txt", "Follow up on diabetes management"),
		doc("P1", "other", "2024-01-10", "P1/a_note.txt", "Type 2 diabetes, continue metformin"),
		doc("P1", "lab", "2024-01-09", "P1/lab.txt", "Hemoglobin A1c 8.1 percent"),
		doc("P2", "other", "2024-01-11", "P2/note.txt", "Essential hypertension, continue lisinopril"),
		doc("P2", "imaging", "", "P2/chest.txt", "Chest radiograph without acute findings"),
	}
}

func (f *fixture) entityChunks(t *testing.T, entity string) []types.Chunk {
	t.Helper()
	chunks, err := f.keyword.GetByEntity(context.Background(), entity)
	require.NoError(t, err)
	out := make([]types.Chunk, len(chunks))
	for i, ch := range chunks {
		out[i] = *ch
	}
	return out
}

func (f *fixture) vectorChunks(entity string) []types.Chunk {
	var out []types.Chunk
	for _, ch := range f.vector.Chunks() {
		if ch.EntityID == entity {
			out = append(out, ch)
		}
	}
	return out
}

func TestBuild_AssignsDeterministicIDs(t *testing.T) {
	f := newFixture(t)
	report, err := f.indexer.Build(context.Background(), corpus(), BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.BuildFull, report.Mode)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 5, report.Documents)
	assert.Equal(t, 5, report.ChunksAdded)
	assert.Equal(t, map[string]int{"P1": 3, "P2": 2}, report.PerEntity)
	assert.Empty(t, report.Warnings)
	assert.True(t, report.Succeeded())

	// Documents sharing a group are numbered in source path order
	a, ok := f.vector.Get("P1_other_2024-01-10_0")
	require.True(t, ok)
	assert.Equal(t, "P1/a_note.txt", a.SourcePath)
	b, ok := f.vector.Get("P1_other_2024-01-10_1")
	require.True(t, ok)
	assert.Equal(t, "P1/b_note.txt", b.SourcePath)

	// Undated documents use a path hash
	assert.True(t, f.vector.Has(types.ChunkID("P2", "imaging", types.DatePart("", "P2/chest.txt"), 0)))

	assert.ElementsMatch(t, f.vector.IDs(), refIDs(t, f.keyword, ""))
}

func TestBuild_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)
	firstIDs := f.vector.IDs()
	firstP1 := f.entityChunks(t, "P1")

	docs := corpus()
	docs[0], docs[4] = docs[4], docs[0]
	report, err := f.indexer.Build(ctx, docs, BuildOptions{Mode: types.BuildFull})
	require.NoError(t, err)

	assert.Equal(t, 5, report.ChunksRemoved)
	assert.Equal(t, 5, report.ChunksAdded)
	assert.ElementsMatch(t, firstIDs, f.vector.IDs())
	assert.Equal(t, firstP1, f.entityChunks(t, "P1"))
}

func TestBuild_ScopedLeavesOtherEntitiesUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)
	p2Keyword := f.entityChunks(t, "P2")
	p2Vector := f.vectorChunks("P2")

	report, err := f.indexer.Build(ctx, []*types.Document{
		doc("P1", "other", "2024-02-01", "P1/new.txt", "Diabetes controlled on current regimen"),
	}, BuildOptions{Scope: "P1"})
	require.NoError(t, err)

	assert.Equal(t, types.BuildScoped, report.Mode)
	assert.Equal(t, 3, report.ChunksRemoved)
	assert.Equal(t, 1, report.ChunksAdded)
	assert.Empty(t, report.Warnings)

	assert.Equal(t, p2Keyword, f.entityChunks(t, "P2"))
	assert.Equal(t, p2Vector, f.vectorChunks("P2"))

	p1 := f.entityChunks(t, "P1")
	require.Len(t, p1, 1)
	assert.Equal(t, "P1_other_2024-02-01_0", p1[0].ID)
	assert.Equal(t, 3, f.vector.Len())
}

func TestBuild_UnderscoreEntitiesDoNotCollide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.indexer.Build(ctx, []*types.Document{
		doc("P1_lab", "report", "2024-01-01", "P1_lab/report.txt", "Potassium elevated"),
		doc("P1", "lab_report", "2024-01-01", "P1/lab_report.txt", "Sodium within range"),
	}, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ChunksAdded)
	assert.Equal(t, 2, f.vector.Len())

	labKeyword := f.entityChunks(t, "P1_lab")
	labVector := f.vectorChunks("P1_lab")
	require.Len(t, labKeyword, 1)
	assert.NotEqual(t, f.entityChunks(t, "P1")[0].ID, labKeyword[0].ID)

	_, err = f.indexer.Build(ctx, []*types.Document{
		doc("P1", "lab_report", "2024-01-01", "P1/lab_report.txt", "Sodium normal"),
	}, BuildOptions{Scope: "P1"})
	require.NoError(t, err)

	assert.Equal(t, labKeyword, f.entityChunks(t, "P1_lab"))
	assert.Equal(t, labVector, f.vectorChunks("P1_lab"))
	assert.Equal(t, 2, f.vector.Len())

	p1 := f.entityChunks(t, "P1")
	require.Len(t, p1, 1)
	assert.Equal(t, "Sodium normal", p1[0].Content)
}

func TestBuild_ScopedRejectsForeignDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)

	_, err = f.indexer.Build(ctx, []*types.Document{
		doc("P2", "other", "2024-02-01", "P2/x.txt", "Should not land in P1"),
	}, BuildOptions{Scope: "P1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.Equal(t, 5, f.vector.Len())
}

func TestBuild_EmbeddingFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)
	beforeIDs := f.vector.IDs()
	beforeRefs := refIDs(t, f.keyword, "")
	invalidations := f.cache.calls.Load()

	report, err := f.indexer.Build(ctx, []*types.Document{
		doc("P1", "other", "2024-03-01", "P1/ok.txt", "Metformin dose unchanged"),
		doc("P1", "other", "2024-03-02", "P1/bad.txt", "This note is poison"),
	}, BuildOptions{Scope: "P1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errPoisoned)
	require.NotNil(t, report)
	assert.False(t, report.Succeeded())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "P1_other_2024-03-02_0", report.Failures[0].ChunkID)
	assert.Contains(t, report.Failures[0].Cause, errPoisoned.Error())

	assert.Equal(t, beforeIDs, f.vector.IDs())
	assert.Equal(t, beforeRefs, refIDs(t, f.keyword, ""))
	assert.Equal(t, invalidations, f.cache.calls.Load())

	// The persisted vector index is the one from the first build
	loaded, err := vectorindex.Load(f.vectorDir, letterEmbedder(), vectorindex.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Equal(t, beforeIDs, loaded.IDs())
}

func TestBuild_Upsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)

	report, err := f.indexer.Build(ctx, []*types.Document{
		doc("P2", "other", "2024-01-11", "P2/note.txt", "Hypertension improved, lisinopril continued"),
	}, BuildOptions{Mode: types.BuildUpsert})
	require.NoError(t, err)
	assert.Equal(t, 0, report.ChunksRemoved)
	assert.Equal(t, 5, f.vector.Len())

	ch, err := f.keyword.GetChunk(ctx, "P2_other_2024-01-11_0")
	require.NoError(t, err)
	assert.Contains(t, ch.Content, "improved")
	vec, ok := f.vector.Get("P2_other_2024-01-11_0")
	require.True(t, ok)
	assert.Equal(t, ch.Content, vec.Content)
}

func TestBuild_PersistsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.cache.calls.Load())

	loaded, err := vectorindex.Load(f.vectorDir, letterEmbedder(), vectorindex.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.ElementsMatch(t, f.vector.IDs(), loaded.IDs())

	last, err := f.keyword.LastBuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, last.RunID)
	assert.Equal(t, 5, last.ChunkCount)
	assert.Equal(t, "letters", last.EmbeddingModel)
	assert.Equal(t, loaded.Config().Checksum, last.VectorChecksum)
}

func TestBuild_InMemoryWithoutVectorDir(t *testing.T) {
	keyword, err := storage.NewSQLiteStorage(storage.MemoryPath)
	require.NoError(t, err)
	defer func() { _ = keyword.Close() }()

	vector := vectorindex.New(letterEmbedder())
	idx := New(vector, keyword, Config{}, WithLogger(logging.Discard()))

	_, err = idx.Build(context.Background(), corpus(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, vector.Len())
}

func TestBuild_InProgress(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.indexer.lock.TryAcquire("other-run"))
	defer f.indexer.lock.Release()

	holder, running := f.indexer.Running()
	assert.True(t, running)
	assert.Equal(t, "other-run", holder)

	_, err := f.indexer.Build(context.Background(), corpus(), BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBuildInProgress)
	assert.Equal(t, types.FailureBusy, types.Classify(err))

	_, err = f.indexer.DeleteEntity(context.Background(), "P1")
	assert.ErrorIs(t, err, types.ErrBuildInProgress)
	assert.Equal(t, 0, f.vector.Len())
}

func TestBuild_ConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	const callers = 8

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.indexer.Build(context.Background(), corpus(), BuildOptions{})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, types.ErrBuildInProgress)
	}
	assert.GreaterOrEqual(t, succeeded, 1)
	assert.Equal(t, 5, f.vector.Len())
	_, running := f.indexer.Running()
	assert.False(t, running)
}

func TestBuild_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		docs []*types.Document
		opts BuildOptions
	}{
		{"no documents", nil, BuildOptions{}},
		{"empty content", []*types.Document{doc("P1", "other", "", "p.txt", "  ")}, BuildOptions{}},
		{"missing entity", []*types.Document{doc("", "other", "", "p.txt", "text")}, BuildOptions{}},
		{"scoped without entity", corpus(), BuildOptions{Mode: types.BuildScoped}},
		{"full with scope", corpus(), BuildOptions{Mode: types.BuildFull, Scope: "P1"}},
		{"unknown mode", corpus(), BuildOptions{Mode: "merge"}},
		{"delete through build", corpus(), BuildOptions{Mode: types.BuildDelete, Scope: "P1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.indexer.Build(ctx, tt.docs, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, f.vector.Len())
}

func TestBuild_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.vector.Len())
}

func TestDeleteEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)
	p2 := f.entityChunks(t, "P2")

	report, err := f.indexer.DeleteEntity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, types.BuildDelete, report.Mode)
	assert.Equal(t, 3, report.ChunksRemoved)
	assert.Empty(t, f.entityChunks(t, "P1"))
	assert.Empty(t, f.vectorChunks("P1"))
	assert.Equal(t, p2, f.entityChunks(t, "P2"))

	_, err = f.indexer.DeleteEntity(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.indexer.Build(ctx, corpus(), BuildOptions{})
	require.NoError(t, err)

	warnings, err := f.indexer.Verify(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Drift the indices apart behind the indexer's back
	keywordOnly := &types.Chunk{ID: "P1_other_2025-01-01_0", Content: "only in keyword", EntityID: "P1", DocumentType: "other"}
	_, err = f.keyword.UpsertChunks(ctx, []*types.Chunk{keywordOnly})
	require.NoError(t, err)

	vectorOnly := &types.Chunk{ID: "P2_other_2025-01-01_0", Content: "only in vector", EntityID: "P2", DocumentType: "other"}
	require.NoError(t, f.vector.Add(ctx, []*types.Chunk{vectorOnly}))

	changed, ok := f.vector.Get("P2_other_2024-01-11_0")
	require.True(t, ok)
	changed.Content = "rewritten in keyword store only"
	_, err = f.keyword.UpsertChunks(ctx, []*types.Chunk{&changed})
	require.NoError(t, err)

	warnings, err = f.indexer.Verify(ctx, "")
	require.NoError(t, err)
	require.Len(t, warnings, 3)

	assert.Equal(t, keywordOnly.ID, warnings[0].ChunkID)
	assert.Equal(t, types.IndexVector, warnings[0].MissingFrom)
	assert.Equal(t, "P2_other_2024-01-11_0", warnings[1].ChunkID)
	assert.Contains(t, warnings[1].Reason, "differs")
	assert.Equal(t, vectorOnly.ID, warnings[2].ChunkID)
	assert.Equal(t, types.IndexKeyword, warnings[2].MissingFrom)

	p1, err := f.indexer.Verify(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, p1, 1)
	assert.Equal(t, keywordOnly.ID, p1[0].ChunkID)
}

func TestBuildOptions_Normalize(t *testing.T) {
	opts := BuildOptions{}
	require.NoError(t, opts.normalize())
	assert.Equal(t, types.BuildFull, opts.Mode)

	opts = BuildOptions{Scope: "P9"}
	require.NoError(t, opts.normalize())
	assert.Equal(t, types.BuildScoped, opts.Mode)

	opts = BuildOptions{Mode: types.BuildUpsert}
	require.NoError(t, opts.normalize())
	assert.Equal(t, types.BuildUpsert, opts.Mode)
}

func TestBuildLock(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{
			name: "TryAcquire succeeds when free",
			testFunc: func(t *testing.T) {
				var lock BuildLock
				assert.True(t, lock.TryAcquire("run-1"))
				id, held := lock.Held()
				assert.True(t, held)
				assert.Equal(t, "run-1", id)
				lock.Release()
			},
		},
		{
			name: "TryAcquire fails while held",
			testFunc: func(t *testing.T) {
				var lock BuildLock
				require.True(t, lock.TryAcquire("run-1"))
				assert.False(t, lock.TryAcquire("run-2"))
				id, _ := lock.Held()
				assert.Equal(t, "run-1", id, "holder must not change on a failed acquire")
				lock.Release()
			},
		},
		{
			name: "Release makes lock available again",
			testFunc: func(t *testing.T) {
				var lock BuildLock
				require.True(t, lock.TryAcquire("run-1"))
				lock.Release()
				_, held := lock.Held()
				assert.False(t, held)
				assert.True(t, lock.TryAcquire("run-2"))
				lock.Release()
			},
		},
		{
			name: "Only one of many concurrent callers wins",
			testFunc: func(t *testing.T) {
				var lock BuildLock
				const goroutines = 100

				var wins atomic.Int32
				var wg sync.WaitGroup
				wg.Add(goroutines)
				for i := 0; i < goroutines; i++ {
					go func() {
						defer wg.Done()
						if lock.TryAcquire("run") {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()

				assert.Equal(t, int32(1), wins.Load())
				lock.Release()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

func refIDs(t *testing.T, s storage.Storage, entity string) []string {
	t.Helper()
	refs, err := s.ListChunkRefs(context.Background(), entity)
	require.NoError(t, err)
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ChunkID
	}
	return ids
}
