package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recordsearch-mcp/internal/config"
	"github.com/dshills/recordsearch-mcp/internal/embedder"
	"github.com/dshills/recordsearch-mcp/internal/indexer"
	"github.com/dshills/recordsearch-mcp/internal/logging"
	"github.com/dshills/recordsearch-mcp/internal/searcher"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// keywordEmbedder puts each watched word on its own axis; the remaining
// axes carry a constant so no vector is zero.
func keywordEmbedder(dim int) *embedder.FuncEmbedder {
	words := []string{"diabetes", "metformin", "hypertension", "lisinopril"}
	return embedder.NewFuncEmbedder("keywords", dim, func(ctx context.Context, text string) ([]float32, error) {
		lower := strings.ToLower(text)
		v := make([]float32, dim)
		for i, w := range words {
			if i < dim && strings.Contains(lower, w) {
				v[i] = 1
			}
		}
		v[dim-1] += 0.1
		return v, nil
	})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.IndexDir = filepath.Join(t.TempDir(), "index")
	return cfg
}

func open(t *testing.T, cfg *config.Config, dim int) *Engine {
	t.Helper()
	eng, err := Open(context.Background(), cfg,
		WithEmbedder(keywordEmbedder(dim)),
		WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// writeRecords lays out two entities the way the loader expects
func writeRecords(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"P1/visit_2024-01-10.txt": "Type 2 diabetes, continue metformin 500 mg twice daily",
		"P1/visit_2024-02-14.txt": "Diabetes follow up, glucose log reviewed",
		"P2/visit_2024-01-11.txt": "Essential hypertension, continue lisinopril",
		"P2/notes.txt":            "Patient reports good adherence to medication",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestOpen_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	eng := open(t, cfg, 4)

	assert.FileExists(t, filepath.Join(cfg.IndexDir, KeywordFile))

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Indexed)
	assert.Equal(t, 4, st.Embedder.Dimension)
	assert.Nil(t, st.Build)
	assert.Nil(t, st.Keyword.LastBuild)

	_, err = eng.Search(ctx, searcher.SearchRequest{Query: "diabetes"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmptyIndex)
	assert.Equal(t, types.FailureEmpty, types.Classify(err))

	entities, err := eng.ListEntities(ctx)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.CandidateFactor = 0

	_, err := Open(context.Background(), cfg, WithEmbedder(keywordEmbedder(4)), WithLogger(logging.Discard()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "candidate_factor")
}

func TestEngine_IndexAndSearch(t *testing.T) {
	ctx := context.Background()
	eng := open(t, testConfig(t), 4)

	report, err := eng.IndexPath(ctx, writeRecords(t), PathOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.BuildFull, report.Mode)
	assert.Equal(t, 4, report.Documents)
	assert.Equal(t, []string{"P1", "P2"}, report.Entities())

	resp, err := eng.Search(ctx, searcher.SearchRequest{Query: "diabetes", EntityID: "P1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "P1", r.Chunk.EntityID)
	}
	assert.Contains(t, strings.ToLower(resp.Results[0].Chunk.Content), "diabetes")

	resp, err = eng.Search(ctx, searcher.SearchRequest{Query: "diabetes", Mode: searcher.ModeKeyword})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Equal(t, "P1", r.Chunk.EntityID, "only P1 mentions diabetes")
	}

	entities, err := eng.ListEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, entities)

	p1, err := eng.GetByEntity(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, "2024-01-10", p1[0].DocumentDate)
	assert.Equal(t, "2024-02-14", p1[1].DocumentDate)

	visits, err := eng.GetByType(ctx, "P2", "other")
	require.NoError(t, err)
	assert.Len(t, visits, 2)

	_, err = eng.GetByEntity(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	warnings, err := eng.Verify(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Indexed)
	assert.Equal(t, 2, st.Entities)
	assert.Equal(t, 4, st.Vector.ChunkCount)
	require.NotNil(t, st.Keyword.LastBuild)
	assert.Equal(t, report.RunID, st.Keyword.LastBuild.RunID)
}

func TestEngine_ReopenKeepsIndices(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := Open(ctx, cfg, WithEmbedder(keywordEmbedder(4)), WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = first.IndexPath(ctx, writeRecords(t), PathOptions{})
	require.NoError(t, err)
	before, err := first.Search(ctx, searcher.SearchRequest{Query: "lisinopril"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := open(t, cfg, 4)
	after, err := second.Search(ctx, searcher.SearchRequest{Query: "lisinopril"})
	require.NoError(t, err)

	require.Equal(t, len(before.Results), len(after.Results))
	for i := range before.Results {
		assert.Equal(t, before.Results[i].Chunk.ID, after.Results[i].Chunk.ID)
		assert.Equal(t, before.Results[i].Score(), after.Results[i].Score())
	}
}

func TestEngine_DimensionMismatchOnLoad(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := Open(ctx, cfg, WithEmbedder(keywordEmbedder(768)), WithLogger(logging.Discard()))
	require.NoError(t, err)
	_, err = first.IndexPath(ctx, writeRecords(t), PathOptions{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	_, err = Open(ctx, cfg, WithEmbedder(keywordEmbedder(384)), WithLogger(logging.Discard()))
	require.Error(t, err)

	var dim *types.DimensionMismatchError
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, 768, dim.Expected)
	assert.Equal(t, 384, dim.Actual)
	assert.Equal(t, types.FailureConfiguration, types.Classify(err))
}

func TestEngine_ScopedIndexPath(t *testing.T) {
	ctx := context.Background()
	eng := open(t, testConfig(t), 4)
	root := writeRecords(t)

	_, err := eng.IndexPath(ctx, root, PathOptions{})
	require.NoError(t, err)
	p2Before, err := eng.GetByEntity(ctx, "P2")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "P1", "visit_2024-03-01.txt"),
		[]byte("Diabetes well controlled, metformin unchanged"), 0644))

	report, err := eng.IndexPath(ctx, root, PathOptions{Entity: "P1"})
	require.NoError(t, err)
	assert.Equal(t, types.BuildScoped, report.Mode)
	assert.Equal(t, 2, report.ChunksRemoved)
	assert.Equal(t, 3, report.ChunksAdded)

	p2After, err := eng.GetByEntity(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, p2Before, p2After)
}

func TestEngine_IndexPathErrors(t *testing.T) {
	ctx := context.Background()
	eng := open(t, testConfig(t), 4)

	_, err := eng.IndexPath(ctx, filepath.Join(t.TempDir(), "missing"), PathOptions{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = eng.IndexPath(ctx, t.TempDir(), PathOptions{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = eng.IndexPath(ctx, writeRecords(t), PathOptions{Entity: "../P1"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestEngine_DeleteEntity(t *testing.T) {
	ctx := context.Background()
	eng := open(t, testConfig(t), 4)
	_, err := eng.IndexPath(ctx, writeRecords(t), PathOptions{})
	require.NoError(t, err)

	report, err := eng.DeleteEntity(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, 2, report.ChunksRemoved)

	entities, err := eng.ListEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, entities)

	resp, err := eng.Search(ctx, searcher.SearchRequest{Query: "lisinopril"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "P2", r.Chunk.EntityID)
	}
}

func TestEngine_Index(t *testing.T) {
	ctx := context.Background()
	eng := open(t, testConfig(t), 4)

	docs := []*types.Document{
		{EntityID: "P7", DocumentType: "other", DocumentDate: "2024-05-01", SourcePath: "p7.txt", Content: "Hypertension screening"},
	}
	_, err := eng.Index(ctx, docs, indexer.BuildOptions{Mode: types.BuildUpsert})
	require.NoError(t, err)

	chunks, err := eng.GetByEntity(ctx, "P7")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "P7_other_2024-05-01_0", chunks[0].ID)
}

func TestEngine_Closed(t *testing.T) {
	ctx := context.Background()
	eng, err := Open(ctx, testConfig(t), WithEmbedder(keywordEmbedder(4)), WithLogger(logging.Discard()))
	require.NoError(t, err)

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err = eng.Search(ctx, searcher.SearchRequest{Query: "x"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = eng.Status(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
