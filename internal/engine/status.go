package engine

import (
	"context"

	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/internal/vectorindex"
)

// Status describes the loaded indices
type Status struct {
	IndexDir string             `json:"index_dir"`
	Indexed  bool               `json:"indexed"`
	Keyword  *storage.Status    `json:"keyword"`
	Vector   vectorindex.Config `json:"vector"`
	Embedder EmbedderStatus     `json:"embedder"`
	Entities int                `json:"entities"`
	Cache    CacheStatus        `json:"cache"`
	Build    *BuildStatus       `json:"build,omitempty"`
}

// EmbedderStatus names the active embedding model
type EmbedderStatus struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// CacheStatus reports search cache occupancy
type CacheStatus struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
}

// BuildStatus is set while a build holds the index
type BuildStatus struct {
	RunID string `json:"run_id"`
}

// Status collects statistics from both indices
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()

	kw, err := e.keyword.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		IndexDir: e.dir,
		Keyword:  kw,
		Vector:   e.vector.Config(),
		Embedder: EmbedderStatus{
			Provider:  e.embedder.Provider(),
			Model:     e.embedder.Model(),
			Dimension: e.embedder.Dimension(),
		},
		Entities: kw.EntityCount,
		Cache: CacheStatus{
			Entries:  e.searcher.CacheLen(),
			Capacity: e.searcher.Config().CacheSize,
		},
	}
	st.Indexed = kw.ChunkCount > 0 || st.Vector.ChunkCount > 0
	if runID, running := e.indexer.Running(); running {
		st.Build = &BuildStatus{RunID: runID}
	}
	return st, nil
}
