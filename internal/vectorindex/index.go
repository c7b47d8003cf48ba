package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dshills/recordsearch-mcp/internal/embedder"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// Result is a single vector hit
type Result struct {
	Chunk      types.Chunk
	Similarity float64 // inner product of unit vectors, in [-1, 1]
}

// Index is a flat in-memory vector store with exact inner-product search.
// Vectors are stored row-major in one slice, parallel to chunks, in
// insertion order.
type Index struct {
	mu sync.RWMutex

	embedder  embedder.Embedder
	model     string
	provider  string
	dimension int
	logger    *slog.Logger

	vectors   []float32
	chunks    []types.Chunk
	positions map[string]int
	createdAt time.Time
	checksum  string // checksum of the last saved or loaded blob
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the index logger
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// New creates an empty index bound to emb. The model id and dimension are
// taken from the embedder.
func New(emb embedder.Embedder, opts ...Option) *Index {
	idx := &Index{
		embedder:  emb,
		model:     emb.Model(),
		provider:  emb.Provider(),
		dimension: emb.Dimension(),
		logger:    slog.Default(),
		positions: make(map[string]int),
		createdAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Add embeds and stores chunks. A chunk whose id is already present replaces
// the stored vector and record in place. Either every chunk is stored or the
// index is left unchanged.
func (idx *Index) Add(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("%w: duplicate chunk id %s in batch", types.ErrInvalidInput, ch.ID)
		}
		seen[ch.ID] = struct{}{}
		texts[i] = ch.Content
	}

	vectors, err := idx.embedAll(ctx, texts)
	if err != nil {
		var embErr *EmbedError
		if errors.As(err, &embErr) {
			embErr.resolve(chunks)
		}
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, ch := range chunks {
		idx.put(*ch, vectors[i*idx.dimension:(i+1)*idx.dimension])
	}
	return nil
}

// embedAll returns the unit vectors for texts, flattened row-major
func (idx *Index) embedAll(ctx context.Context, texts []string) ([]float32, error) {
	out := make([]float32, 0, len(texts)*idx.dimension)

	for start := 0; start < len(texts); start += embedder.DefaultBatchSize {
		end := min(start+embedder.DefaultBatchSize, len(texts))

		resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
		if err != nil {
			embErr := &EmbedError{Start: start, End: end, Err: err}
			var textErr *embedder.TextError
			if errors.As(err, &textErr) && textErr.Index >= 0 && textErr.Index < end-start {
				embErr.Start = start + textErr.Index
				embErr.End = embErr.Start + 1
			}
			return nil, embErr
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			if len(emb.Vector) != idx.dimension {
				return nil, &types.DimensionMismatchError{
					Expected: idx.dimension,
					Actual:   len(emb.Vector),
					Model:    idx.model,
					Op:       "add",
				}
			}
			out = append(out, embedder.NormalizeVector(emb.Vector)...)
		}
	}
	return out, nil
}

// EmbedError reports the chunks whose embedding failed. When the embedder
// names the failing text ChunkIDs holds just that chunk, otherwise every
// chunk of the failed request.
type EmbedError struct {
	Start, End int // positions in the Add batch, End exclusive
	ChunkIDs   []string
	Err        error
}

func (e *EmbedError) Error() string {
	if len(e.ChunkIDs) == 1 {
		return fmt.Sprintf("failed to embed chunk %s: %v", e.ChunkIDs[0], e.Err)
	}
	return fmt.Sprintf("failed to embed chunks %d-%d: %v", e.Start, e.End-1, e.Err)
}

func (e *EmbedError) Unwrap() error {
	return e.Err
}

func (e *EmbedError) resolve(chunks []*types.Chunk) {
	e.ChunkIDs = make([]string, 0, e.End-e.Start)
	for _, ch := range chunks[e.Start:e.End] {
		e.ChunkIDs = append(e.ChunkIDs, ch.ID)
	}
}

// put stores one record; the caller holds the write lock
func (idx *Index) put(ch types.Chunk, vector []float32) {
	if pos, ok := idx.positions[ch.ID]; ok {
		copy(idx.vectors[pos*idx.dimension:], vector)
		idx.chunks[pos] = ch
		return
	}
	idx.positions[ch.ID] = len(idx.chunks)
	idx.chunks = append(idx.chunks, ch)
	idx.vectors = append(idx.vectors, vector...)
}

// Search embeds query and returns the topK most similar chunks. When
// entityID is set only that entity's chunks are ranked, so the result is
// never short because of filtering.
func (idx *Index) Search(ctx context.Context, query string, topK int, entityID string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1", types.ErrInvalidInput)
	}
	if idx.Len() == 0 {
		return nil, &types.EmptyIndexError{Index: types.IndexVector}
	}

	emb, err := idx.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(emb.Vector) != idx.dimension {
		return nil, &types.DimensionMismatchError{
			Expected: idx.dimension,
			Actual:   len(emb.Vector),
			Model:    idx.model,
			Op:       "search",
		}
	}

	return idx.SearchVector(embedder.NormalizeVector(emb.Vector), topK, entityID)
}

// SearchVector ranks stored vectors against a unit query vector. Ties keep
// insertion order.
func (idx *Index) SearchVector(query []float32, topK int, entityID string) ([]Result, error) {
	if len(query) != idx.dimension {
		return nil, &types.DimensionMismatchError{
			Expected: idx.dimension,
			Actual:   len(query),
			Model:    idx.model,
			Op:       "search",
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		pos   int
		score float64
	}
	candidates := make([]scored, 0, len(idx.chunks))
	for pos := range idx.chunks {
		if entityID != "" && idx.chunks[pos].EntityID != entityID {
			continue
		}
		candidates = append(candidates, scored{pos: pos, score: dot(query, idx.vectors[pos*idx.dimension:(pos+1)*idx.dimension])})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Chunk: idx.chunks[c.pos], Similarity: c.score}
	}
	return results, nil
}

// dot returns the inner product clamped to [-1, 1]
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return max(-1, min(1, sum))
}

// Clone returns a deep copy sharing the embedder
func (idx *Index) Clone() *Index {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c := &Index{
		embedder:  idx.embedder,
		model:     idx.model,
		provider:  idx.provider,
		dimension: idx.dimension,
		logger:    idx.logger,
		vectors:   append([]float32(nil), idx.vectors...),
		chunks:    append([]types.Chunk(nil), idx.chunks...),
		positions: make(map[string]int, len(idx.positions)),
		createdAt: idx.createdAt,
		checksum:  idx.checksum,
	}
	for id, pos := range idx.positions {
		c.positions[id] = pos
	}
	return c
}

// Swap replaces the contents of idx with those of other. other must not be
// used afterwards.
func (idx *Index) Swap(other *Index) {
	if other == idx {
		return
	}
	other.mu.Lock()
	vectors, chunks, positions := other.vectors, other.chunks, other.positions
	createdAt, checksum := other.createdAt, other.checksum
	other.vectors, other.chunks, other.positions = nil, nil, make(map[string]int)
	other.mu.Unlock()

	idx.mu.Lock()
	idx.vectors, idx.chunks, idx.positions = vectors, chunks, positions
	idx.createdAt, idx.checksum = createdAt, checksum
	idx.mu.Unlock()
}

// RemoveEntity deletes every chunk owned by entityID, keeping the relative
// order of the rest. It returns the number removed.
func (idx *Index) RemoveEntity(entityID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := 0
	for pos, ch := range idx.chunks {
		if ch.EntityID == entityID {
			continue
		}
		if kept != pos {
			idx.chunks[kept] = ch
			copy(idx.vectors[kept*idx.dimension:(kept+1)*idx.dimension], idx.vectors[pos*idx.dimension:(pos+1)*idx.dimension])
		}
		kept++
	}

	removed := len(idx.chunks) - kept
	if removed == 0 {
		return 0
	}
	clear(idx.chunks[kept:])
	idx.chunks = idx.chunks[:kept]
	idx.vectors = idx.vectors[:kept*idx.dimension]
	idx.reindex()
	return removed
}

// Clear removes every chunk
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = nil
	idx.chunks = nil
	idx.positions = make(map[string]int)
}

func (idx *Index) reindex() {
	idx.positions = make(map[string]int, len(idx.chunks))
	for pos, ch := range idx.chunks {
		idx.positions[ch.ID] = pos
	}
}

// Len returns the number of stored chunks
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Has reports whether id is stored
func (idx *Index) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.positions[id]
	return ok
}

// Get returns the chunk stored under id
func (idx *Index) Get(id string) (types.Chunk, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.positions[id]
	if !ok {
		return types.Chunk{}, false
	}
	return idx.chunks[pos], true
}

// Chunks returns the stored chunks in insertion order
func (idx *Index) Chunks() []types.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]types.Chunk(nil), idx.chunks...)
}

// IDs returns the stored chunk ids in insertion order
func (idx *Index) IDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, len(idx.chunks))
	for i, ch := range idx.chunks {
		ids[i] = ch.ID
	}
	return ids
}

// Entities returns the sorted distinct owning entities
func (idx *Index) Entities() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := make(map[string]struct{})
	for _, ch := range idx.chunks {
		set[ch.EntityID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Dimension returns the configured vector dimension
func (idx *Index) Dimension() int {
	return idx.dimension
}

// Config describes the index as it would be persisted
func (idx *Index) Config() Config {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Config{
		EmbeddingModelID: idx.model,
		Dimension:        idx.dimension,
		ChunkCount:       len(idx.chunks),
		FormatVersion:    FormatVersion,
		Provider:         idx.provider,
		Checksum:         idx.checksum,
		CreatedAt:        idx.createdAt,
	}
}
