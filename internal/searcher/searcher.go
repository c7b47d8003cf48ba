package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/internal/vectorindex"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// Mode defines how search is performed
type Mode string

const (
	ModeHybrid  Mode = "hybrid"  // vector + BM25, min-max fused
	ModeVector  Mode = "vector"  // vector similarity only
	ModeKeyword Mode = "keyword" // BM25 text search only
)

// ParseMode converts user input into a Mode. Empty input selects hybrid and
// "fts" is accepted for keyword.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeHybrid):
		return ModeHybrid, nil
	case string(ModeVector):
		return ModeVector, nil
	case string(ModeKeyword), "fts":
		return ModeKeyword, nil
	default:
		return "", fmt.Errorf("%w: unknown search mode %q (want hybrid, vector or keyword)", types.ErrInvalidInput, s)
	}
}

// VectorIndex is the dense side of a hybrid search
type VectorIndex interface {
	Search(ctx context.Context, query string, topK int, entityID string) ([]vectorindex.Result, error)
	Has(chunkID string) bool
	Len() int
}

// KeywordIndex is the BM25 side of a hybrid search
type KeywordIndex interface {
	SearchText(ctx context.Context, query string, limit int, entityID string) ([]storage.TextResult, error)
	Snippet(ctx context.Context, chunkID, query string) (string, error)
	GetChunks(ctx context.Context, chunkIDs []string) (map[string]*types.Chunk, error)
	CountChunks(ctx context.Context) (int, error)
}

// Config tunes ranking and caching
type Config struct {
	VectorWeight    float64
	KeywordWeight   float64
	CandidateFactor int // hybrid over-fetch multiplier applied to TopK
	DefaultTopK     int
	MaxTopK         int
	CacheSize       int
	CacheTTL        time.Duration
}

// DefaultConfig returns equal weights and a 4x over-fetch
func DefaultConfig() Config {
	return Config{
		VectorWeight:    0.5,
		KeywordWeight:   0.5,
		CandidateFactor: 4,
		DefaultTopK:     10,
		MaxTopK:         100,
		CacheSize:       1000,
		CacheTTL:        time.Hour,
	}
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Mode     Mode
	TopK     int    // 0 selects Config.DefaultTopK
	EntityID string // restrict results to one owning entity
	UseCache bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results           []types.SearchResult
	TotalResults      int
	Mode              Mode
	Duration          time.Duration
	CacheHit          bool
	VectorCandidates  int
	KeywordCandidates int

	// Degraded names the index that failed during a hybrid search; results
	// then come from the other index alone.
	Degraded       types.IndexKind
	DegradedReason string

	Warnings []types.ConsistencyWarning
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher is the hybrid search coordinator
type Searcher struct {
	vector  VectorIndex
	keyword KeywordIndex
	cfg     Config
	logger  *slog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger used for degradation and consistency reports
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSearcher creates a coordinator over both indices. Zero config values
// fall back to DefaultConfig.
func NewSearcher(vector VectorIndex, keyword KeywordIndex, cfg Config, opts ...Option) *Searcher {
	def := DefaultConfig()
	if cfg.VectorWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.VectorWeight, cfg.KeywordWeight = def.VectorWeight, def.KeywordWeight
	}
	if cfg.CandidateFactor < 1 {
		cfg.CandidateFactor = def.CandidateFactor
	}
	if cfg.DefaultTopK < 1 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK < cfg.DefaultTopK {
		cfg.MaxTopK = max(def.MaxTopK, cfg.DefaultTopK)
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		// Only fails for a non-positive size, which was ruled out above
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		vector:  vector,
		keyword: keyword,
		cfg:     cfg,
		logger:  slog.Default(),
		cache:   cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration
func (s *Searcher) Config() Config {
	return s.cfg
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case ModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case ModeVector:
		response, err = s.vectorSearch(ctx, req)
	case ModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unsupported search mode: %s", types.ErrInvalidInput, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Mode = req.Mode
	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)

	s.logger.Debug("search completed",
		"mode", req.Mode,
		"entity", req.EntityID,
		"results", response.TotalResults,
		"vector_candidates", response.VectorCandidates,
		"keyword_candidates", response.KeywordCandidates,
		"duration", response.Duration)

	if req.UseCache && len(response.Results) > 0 && response.Degraded == "" {
		s.storeInCache(req, response)
	}

	return response, nil
}

// validateRequest normalizes defaults and rejects unusable input
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", types.ErrInvalidInput)
	}

	if req.TopK == 0 {
		req.TopK = s.cfg.DefaultTopK
	}
	if req.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d", types.ErrInvalidInput, req.TopK)
	}
	if req.TopK > s.cfg.MaxTopK {
		return fmt.Errorf("%w: top_k %d exceeds maximum %d", types.ErrInvalidInput, req.TopK, s.cfg.MaxTopK)
	}

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode
	req.EntityID = strings.TrimSpace(req.EntityID)
	return nil
}

// vectorSearch performs only vector similarity search
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results, err := s.runVector(ctx, req.Query, req.TopK, req.EntityID)
	if err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, types.SearchResult{
			Chunk: r.Chunk,
			Match: types.VectorMatch{Similarity: r.Similarity},
		})
	}

	return &SearchResponse{
		Results:          s.guardEntity(rank(out), req.EntityID),
		VectorCandidates: len(results),
	}, nil
}

// keywordSearch performs only BM25 text search
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results, err := s.runKeyword(ctx, req.Query, req.TopK, req.EntityID)
	if err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, types.SearchResult{
			Chunk: r.Chunk,
			Match: types.KeywordMatch{BM25: r.Score, Snippet: r.Snippet},
		})
	}

	return &SearchResponse{
		Results:           s.guardEntity(rank(out), req.EntityID),
		KeywordCandidates: len(results),
	}, nil
}

func (s *Searcher) runVector(ctx context.Context, query string, topK int, entityID string) ([]vectorindex.Result, error) {
	if s.vector.Len() == 0 {
		return nil, &types.EmptyIndexError{Index: types.IndexVector}
	}
	results, err := s.vector.Search(ctx, query, topK, entityID)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return results, nil
}

func (s *Searcher) runKeyword(ctx context.Context, query string, limit int, entityID string) ([]storage.TextResult, error) {
	count, err := s.keyword.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if count == 0 {
		return nil, &types.EmptyIndexError{Index: types.IndexKeyword}
	}
	results, err := s.keyword.SearchText(ctx, query, limit, entityID)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return results, nil
}

// hybridSearch queries both indices concurrently and fuses their rankings.
// A failing side degrades the search to the other one.
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	candidates := req.TopK * s.cfg.CandidateFactor

	var (
		vectorRes  []vectorindex.Result
		keywordRes []storage.TextResult
		vectorErr  error
		keywordErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		vectorRes, vectorErr = s.runVector(ctx, req.Query, candidates, req.EntityID)
		return nil
	})
	g.Go(func() error {
		keywordRes, keywordErr = s.runKeyword(ctx, req.Query, candidates, req.EntityID)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response := &SearchResponse{
		VectorCandidates:  len(vectorRes),
		KeywordCandidates: len(keywordRes),
	}

	switch {
	case vectorErr != nil && keywordErr != nil:
		if errors.Is(vectorErr, types.ErrEmptyIndex) && errors.Is(keywordErr, types.ErrEmptyIndex) {
			return nil, &types.EmptyIndexError{}
		}
		// Input errors are the caller's, report them as such
		if errors.Is(vectorErr, types.ErrInvalidInput) {
			return nil, vectorErr
		}
		return nil, fmt.Errorf("both searches failed: vector=%w, keyword=%v", vectorErr, keywordErr)
	case vectorErr != nil:
		response.Degraded = types.IndexVector
		response.DegradedReason = vectorErr.Error()
		s.logger.Warn("hybrid search degraded to keyword only", "error", vectorErr)
	case keywordErr != nil:
		response.Degraded = types.IndexKeyword
		response.DegradedReason = keywordErr.Error()
		s.logger.Warn("hybrid search degraded to vector only", "error", keywordErr)
	}

	fused := Fuse(vectorRes, keywordRes, s.cfg.VectorWeight, s.cfg.KeywordWeight)
	if len(fused) > req.TopK {
		fused = fused[:req.TopK]
	}

	results := make([]types.SearchResult, len(fused))
	for i, f := range fused {
		results[i] = f.result()
	}
	results = s.guardEntity(results, req.EntityID)

	if response.Degraded == "" {
		var err error
		response.Warnings, err = s.checkConsistency(ctx, req.Query, results)
		if err != nil {
			return nil, err
		}
	}

	response.Results = rank(results)
	return response, nil
}

// guardEntity drops results owned by a different entity. Both indices filter
// natively, so anything dropped here points at an index bug and is logged.
func (s *Searcher) guardEntity(results []types.SearchResult, entityID string) []types.SearchResult {
	if entityID == "" {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if r.Chunk.EntityID != entityID {
			s.logger.Error("dropping result for wrong entity",
				"chunk_id", r.Chunk.ID, "owner", r.Chunk.EntityID, "requested", entityID)
			continue
		}
		kept = append(kept, r)
	}
	return rank(kept)
}

// checkConsistency looks up results that only one side returned in the other
// index. Missing ids and content disagreements become warnings; snippets are
// filled in for vector-only hits that the keyword index does hold.
func (s *Searcher) checkConsistency(ctx context.Context, query string, results []types.SearchResult) ([]types.ConsistencyWarning, error) {
	var warnings []types.ConsistencyWarning
	var vectorOnly []string

	for _, r := range results {
		m, ok := r.Match.(types.FusedMatch)
		if !ok {
			continue
		}
		switch {
		case m.Vector != nil && m.Keyword == nil:
			vectorOnly = append(vectorOnly, r.Chunk.ID)
		case m.Keyword != nil && m.Vector == nil:
			if !s.vector.Has(r.Chunk.ID) {
				warnings = append(warnings, types.ConsistencyWarning{
					ChunkID:     r.Chunk.ID,
					PresentIn:   types.IndexKeyword,
					MissingFrom: types.IndexVector,
					Reason:      "chunk missing from vector index",
				})
			}
		}
	}

	if len(vectorOnly) > 0 {
		stored, err := s.keyword.GetChunks(ctx, vectorOnly)
		if err != nil {
			return nil, fmt.Errorf("consistency check: %w", err)
		}
		for i, r := range results {
			m, ok := r.Match.(types.FusedMatch)
			if !ok || m.Keyword != nil {
				continue
			}
			kw, found := stored[r.Chunk.ID]
			switch {
			case !found:
				warnings = append(warnings, types.ConsistencyWarning{
					ChunkID:     r.Chunk.ID,
					PresentIn:   types.IndexVector,
					MissingFrom: types.IndexKeyword,
					Reason:      "chunk missing from keyword index",
				})
			case kw.Content != r.Chunk.Content:
				warnings = append(warnings, types.ConsistencyWarning{
					ChunkID:   r.Chunk.ID,
					PresentIn: types.IndexVector,
					Reason:    "content differs between indices",
				})
			default:
				snippet, err := s.keyword.Snippet(ctx, r.Chunk.ID, query)
				if err == nil {
					m.Snippet = snippet
					results[i].Match = m
				}
			}
		}
	}

	for _, w := range warnings {
		s.logger.Warn("index consistency", "chunk_id", w.ChunkID, "reason", w.Reason)
	}
	return warnings, nil
}

// rank assigns 1-based positions in slice order
func rank(results []types.SearchResult) []types.SearchResult {
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// checkCache looks up cached search results
func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves a copy of the response
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		// FusedMatch holds component pointers, everything else is values
		if m, ok := r.Match.(types.FusedMatch); ok {
			if m.Vector != nil {
				c := *m.Vector
				m.Vector = &c
			}
			if m.Keyword != nil {
				c := *m.Keyword
				m.Keyword = &c
			}
			dst.Results[i].Match = m
		}
	}
	if src.Warnings != nil {
		dst.Warnings = append([]types.ConsistencyWarning(nil), src.Warnings...)
	}
	return &dst
}

// computeQueryHash computes a unique hash for a normalized search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.TopK))
	data.WriteString("|")
	data.WriteString(req.EntityID)
	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached response. Builds call it after they
// swap in new index state.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
