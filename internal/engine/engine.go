package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dshills/recordsearch-mcp/internal/chunker"
	"github.com/dshills/recordsearch-mcp/internal/config"
	"github.com/dshills/recordsearch-mcp/internal/embedder"
	"github.com/dshills/recordsearch-mcp/internal/indexer"
	"github.com/dshills/recordsearch-mcp/internal/loader"
	"github.com/dshills/recordsearch-mcp/internal/searcher"
	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/internal/vectorindex"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// Layout of the index directory
const (
	KeywordFile = "keyword.db"
	VectorDir   = "vector"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("engine is closed")

// Engine owns both indices and the components reading and writing them.
// All methods are safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	dir      string
	embedder embedder.Embedder
	vector   *vectorindex.Index
	keyword  *storage.SQLiteStorage
	searcher *searcher.Searcher
	indexer  *indexer.Indexer
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Option configures Open
type Option func(*options)

type options struct {
	embedder embedder.Embedder
	logger   *slog.Logger
}

// WithEmbedder uses emb instead of building one from the configuration
func WithEmbedder(emb embedder.Embedder) Option {
	return func(o *options) { o.embedder = emb }
}

// WithLogger sets the logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open loads the indices under cfg.IndexDir, creating them when absent. A
// vector index built with a different dimension, or one that fails its
// integrity checks, is fatal.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	emb := o.embedder
	if emb == nil {
		var err error
		emb, err = embedder.New(embedder.Config{
			Provider:          cfg.Embedding.Provider,
			Model:             cfg.Embedding.Model,
			APIKey:            cfg.Embedding.APIKey,
			ModelPath:         cfg.Embedding.ModelPath,
			Dimension:         cfg.Embedding.Dimension,
			CacheSize:         cfg.Embedding.CacheSize,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Burst:             cfg.Embedding.Burst,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.IndexDir, 0755); err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	keyword, err := storage.NewSQLiteStorage(filepath.Join(cfg.IndexDir, KeywordFile))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open keyword store: %w", err)
	}

	vectorPath := filepath.Join(cfg.IndexDir, VectorDir)
	vector, err := vectorindex.Load(vectorPath, emb, vectorindex.WithLogger(o.logger))
	if err != nil {
		_ = keyword.Close()
		_ = emb.Close()
		return nil, err
	}

	s := searcher.NewSearcher(vector, keyword, searcher.Config{
		VectorWeight:    cfg.Search.VectorWeight,
		KeywordWeight:   cfg.Search.KeywordWeight,
		CandidateFactor: cfg.Search.CandidateFactor,
		DefaultTopK:     cfg.Search.DefaultTopK,
		MaxTopK:         cfg.Search.MaxTopK,
		CacheSize:       cfg.Search.CacheSize,
		CacheTTL:        cfg.Search.CacheTTL(),
	}, searcher.WithLogger(o.logger))

	ix := indexer.New(vector, keyword, indexer.Config{
		VectorDir: vectorPath,
		Chunking: chunker.Config{
			MinChunkSize: cfg.Chunking.MinChunkSize,
			MaxChunkSize: cfg.Chunking.MaxChunkSize,
			OverlapSize:  cfg.Chunking.OverlapSize,
			MaxTokens:    cfg.Chunking.MaxTokens,
		},
	}, indexer.WithLogger(o.logger), indexer.WithCacheInvalidator(s))

	e := &Engine{
		cfg:      cfg,
		dir:      cfg.IndexDir,
		embedder: emb,
		vector:   vector,
		keyword:  keyword,
		searcher: s,
		indexer:  ix,
		logger:   o.logger,
	}

	count, err := keyword.CountChunks(ctx)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	if count != vector.Len() {
		e.logger.Warn("indices hold different chunk counts, run verify",
			slog.Int("keyword", count),
			slog.Int("vector", vector.Len()))
	}

	e.logger.Info("engine opened",
		slog.String("index_dir", cfg.IndexDir),
		slog.String("embedder", emb.Provider()+"/"+emb.Model()),
		slog.Int("chunks", vector.Len()))
	return e, nil
}

// Close releases the keyword store and the embedder. It is safe to call
// more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return errors.Join(e.keyword.Close(), e.embedder.Close())
}

// guard holds the read lock for the duration of an operation
func (e *Engine) guard() (func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	return e.mu.RUnlock, nil
}

// Config returns the configuration the engine was opened with
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Index builds docs into both indices. An empty scope rebuilds everything
// unless opts selects upsert.
func (e *Engine) Index(ctx context.Context, docs []*types.Document, opts indexer.BuildOptions) (*types.BuildReport, error) {
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.indexer.Build(ctx, docs, opts)
}

// PathOptions selects what IndexPath loads from a directory tree
type PathOptions struct {
	Entity string // load and rebuild only this entity
	Upsert bool   // keep chunks not produced by this load
}

// IndexPath loads documents from root with the filesystem loader and builds
// them.
func (e *Engine) IndexPath(ctx context.Context, root string, opts PathOptions) (*types.BuildReport, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrInvalidInput, root)
	}

	l := loader.New(root,
		loader.WithEntityPrefix(e.cfg.Loader.EntityPrefix),
		loader.WithLogger(e.logger))

	var docs []*types.Document
	build := indexer.BuildOptions{}
	if opts.Entity != "" {
		docs, err = l.LoadEntity(ctx, opts.Entity)
		build.Scope = opts.Entity
	} else {
		docs, err = l.LoadAll(ctx)
	}
	if err != nil {
		if errors.Is(err, loader.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return nil, err
	}
	if opts.Upsert {
		build = indexer.BuildOptions{Mode: types.BuildUpsert}
	}

	return e.Index(ctx, docs, build)
}

// Search runs a query against the indices
func (e *Engine) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.searcher.Search(ctx, req)
}

// GetByEntity returns every chunk of an entity, document by document
func (e *Engine) GetByEntity(ctx context.Context, entityID string) ([]*types.Chunk, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity is required", types.ErrInvalidInput)
	}
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.keyword.GetByEntity(ctx, entityID)
}

// GetByType returns an entity's chunks of one document type
func (e *Engine) GetByType(ctx context.Context, entityID, documentType string) ([]*types.Chunk, error) {
	if entityID == "" || documentType == "" {
		return nil, fmt.Errorf("%w: entity and document type are required", types.ErrInvalidInput)
	}
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.keyword.GetByType(ctx, entityID, documentType)
}

// ListEntities returns the sorted union of entities known to either index
func (e *Engine) ListEntities(ctx context.Context) ([]string, error) {
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()

	fromKeyword, err := e.keyword.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(fromKeyword))
	for _, id := range fromKeyword {
		set[id] = struct{}{}
	}
	for _, id := range e.vector.Entities() {
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Verify cross-checks the indices for entityID, or everything when empty
func (e *Engine) Verify(ctx context.Context, entityID string) ([]types.ConsistencyWarning, error) {
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.indexer.Verify(ctx, entityID)
}

// DeleteEntity removes an entity from both indices
func (e *Engine) DeleteEntity(ctx context.Context, entityID string) (*types.BuildReport, error) {
	release, err := e.guard()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.indexer.DeleteEntity(ctx, entityID)
}
