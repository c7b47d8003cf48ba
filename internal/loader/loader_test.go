package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestInferDocumentType(t *testing.T) {
	tests := map[string]string{
		"progress_note_2024-03-15.txt":      "progress_note",
		"Lab_Results_2024-03-08.txt":        "lab",
		"hra_2023-11-02.txt":                "hra",
		"cardiology_consult_2024-01-10.txt": "cardiology_consult",
		"polysomnography_2022-06-01.txt":    "sleep_study",
		"ct_chest_2023-09-09.txt":           "imaging",
		"xray_knee.txt":                     "imaging",
		"problem_list.txt":                  "prior_year_problems",
		"nephrology_consult.txt":            "other_consult",
		"discharge_summary.txt":             "other",
	}
	for name, want := range tests {
		assert.Equal(t, want, InferDocumentType(filepath.Join("/data/P1", name)), name)
	}
}

func TestExtractDate(t *testing.T) {
	assert.Equal(t, "2024-03-15", ExtractDate("/data/P1/progress_note_2024-03-15.txt"))
	assert.Equal(t, "", ExtractDate("/data/2024-03-15/problem_list.txt"), "only the file name is searched")
}

func TestLoader(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "CVD-001", "progress_note_2024-03-15.txt"), "Assessment: diabetes")
	writeFile(t, filepath.Join(root, "CVD-001", "lab_results_2024-03-08.txt"), "HbA1c 7.4%")
	writeFile(t, filepath.Join(root, "CVD-001", "notes.md"), "ignored")
	writeFile(t, filepath.Join(root, "CVD-001", "empty_2024-01-01.txt"), "  \n")
	writeFile(t, filepath.Join(root, "CVD-002", "hra_2023-11-02.txt"), "Tobacco use: never")
	writeFile(t, filepath.Join(root, "scratch", "other.txt"), "not a patient")
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0755))

	ctx := context.Background()

	t.Run("list entities", func(t *testing.T) {
		entities, err := New(root).ListEntities()
		require.NoError(t, err)
		assert.Equal(t, []string{"CVD-001", "CVD-002", "scratch"}, entities)

		entities, err = New(root, WithEntityPrefix("CVD-")).ListEntities()
		require.NoError(t, err)
		assert.Equal(t, []string{"CVD-001", "CVD-002"}, entities)
	})

	t.Run("load entity", func(t *testing.T) {
		docs, err := New(root).LoadEntity(ctx, "CVD-001")
		require.NoError(t, err)
		require.Len(t, docs, 2, "empty and non-txt files are skipped")

		assert.Equal(t, "lab", docs[0].DocumentType)
		assert.Equal(t, "2024-03-08", docs[0].DocumentDate)
		assert.Equal(t, "progress_note", docs[1].DocumentType)
		assert.Equal(t, "CVD-001", docs[1].EntityID)
		assert.Equal(t, "Assessment: diabetes", docs[1].Content)
		assert.NoError(t, docs[1].Validate())
	})

	t.Run("load all", func(t *testing.T) {
		docs, err := New(root, WithEntityPrefix("CVD-")).LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})

	t.Run("invalid entity", func(t *testing.T) {
		_, err := New(root).LoadEntity(ctx, "../etc")
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})

	t.Run("nothing to load", func(t *testing.T) {
		_, err := New(root, WithEntityPrefix("ZZZ")).LoadAll(ctx)
		assert.ErrorIs(t, err, ErrNoDocuments)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := New(filepath.Join(root, "missing")).ListEntities()
		assert.Error(t, err)
	})
}
