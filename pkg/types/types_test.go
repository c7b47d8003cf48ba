package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	assert.Equal(t, "P1_progress_note_2024-03-01_0", ChunkID("P1", "progress_note", "2024-03-01", 0))

	undated := DatePart("", "P1/notes.txt")
	assert.Len(t, undated, 9)
	assert.Equal(t, byte('h'), undated[0])
	assert.Equal(t, undated, DatePart("", "P1/notes.txt"))
	assert.NotEqual(t, undated, DatePart("", "P1/other.txt"))
	assert.Equal(t, "2024-03-01", DatePart("2024-03-01", "P1/notes.txt"))
}

func TestChunkID_Injective(t *testing.T) {
	assert.NotEqual(t,
		ChunkID("P1_lab", "report", "2024-01-01", 0),
		ChunkID("P1", "lab_report", "2024-01-01", 0))
	assert.Equal(t, "P1%5Flab_report_2024-01-01_0", ChunkID("P1_lab", "report", "2024-01-01", 0))

	assert.NotEqual(t,
		ChunkID("P1", "lab", "x_y", 0),
		ChunkID("P1", "lab_x", "y", 0))
	assert.NotEqual(t,
		ChunkID("P1%5Fa", "lab", "2024-01-01", 0),
		ChunkID("P1_a", "lab", "2024-01-01", 0))
}

func TestChunk_AssignIDDeterministic(t *testing.T) {
	a := &Chunk{EntityID: "P1", DocumentType: "lab", SourcePath: "P1/lab.txt", Sequence: 2, Content: "x"}
	b := *a
	a.AssignID()
	b.AssignID()
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, ChunkID("P1", "lab", DatePart("", "P1/lab.txt"), 2), a.ID)
	require.NoError(t, a.Validate())
}

func TestDocument_Validate(t *testing.T) {
	ok := &Document{EntityID: "P1", DocumentType: "lab", Content: "glucose"}
	require.NoError(t, ok.Validate())

	for _, d := range []*Document{
		{DocumentType: "lab", Content: "glucose"},
		{EntityID: "P1", Content: "glucose"},
		{EntityID: "P1", DocumentType: "lab", Content: "  "},
	} {
		assert.ErrorIs(t, d.Validate(), ErrInvalidInput)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{nil, ""},
		{fmt.Errorf("load: %w", &DimensionMismatchError{Expected: 768, Actual: 384}), FailureConfiguration},
		{&IndexCorruptionError{Path: "vector", Reason: "checksum"}, FailureLoad},
		{&EmptyIndexError{Index: IndexVector}, FailureEmpty},
		{fmt.Errorf("%w: empty query", ErrInvalidInput), FailureInput},
		{ErrBuildInProgress, FailureBusy},
		{context.DeadlineExceeded, FailureCanceled},
		{errors.New("boom"), FailureInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestEmptyIndexError_Is(t *testing.T) {
	err := fmt.Errorf("search: %w", &EmptyIndexError{Index: IndexKeyword})
	assert.ErrorIs(t, err, ErrEmptyIndex)
	assert.Contains(t, err.Error(), "keyword")
}

func TestSearchResult_JSON(t *testing.T) {
	r := SearchResult{
		Chunk: Chunk{ID: "P1_lab_2024-01-09_0", EntityID: "P1", Content: "glucose"},
		Rank:  1,
		Match: FusedMatch{
			Fused:   0.75,
			Vector:  &Component{Raw: 0.9, Normalized: 1},
			Snippet: "<b>glucose</b>",
		},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(1), out["rank"])
	assert.Equal(t, 0.75, out["score"])
	assert.Equal(t, "hybrid", out["source"])
	assert.Equal(t, "<b>glucose</b>", out["snippet"])

	components := out["components"].(map[string]interface{})
	assert.Contains(t, components, "vector")
	assert.NotContains(t, components, "keyword")
	assert.Equal(t, "P1_lab_2024-01-09_0", out["chunk"].(map[string]interface{})["chunk_id"])
}
