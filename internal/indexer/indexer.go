package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/recordsearch-mcp/internal/chunker"
	"github.com/dshills/recordsearch-mcp/internal/storage"
	"github.com/dshills/recordsearch-mcp/internal/vectorindex"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// CacheInvalidator is anything holding results derived from the indices
type CacheInvalidator interface {
	InvalidateCache()
}

// Indexer coordinates the build pipeline: chunk -> embed -> stage -> commit
type Indexer struct {
	chunker   *chunker.Chunker
	vector    *vectorindex.Index
	keyword   storage.Storage
	vectorDir string
	workers   int

	caches []CacheInvalidator
	lock   BuildLock
	logger *slog.Logger
}

// Config contains configuration for the indexer
type Config struct {
	VectorDir string         // where the vector index is persisted; empty keeps it in memory
	Workers   int            // concurrent chunking workers (default: runtime.NumCPU())
	Chunking  chunker.Config // zero value means chunker.DefaultConfig()
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the indexer logger
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Indexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithCacheInvalidator registers a cache that is flushed after every commit
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(idx *Indexer) {
		if c != nil {
			idx.caches = append(idx.caches, c)
		}
	}
}

// BuildOptions selects what a build replaces
type BuildOptions struct {
	Mode  types.BuildMode // defaults to full, or scoped when Scope is set
	Scope string          // owning entity for scoped builds
}

func (o *BuildOptions) normalize() error {
	if o.Mode == "" {
		o.Mode = types.BuildFull
		if o.Scope != "" {
			o.Mode = types.BuildScoped
		}
	}
	switch o.Mode {
	case types.BuildFull, types.BuildUpsert:
		if o.Scope != "" {
			return fmt.Errorf("%w: %s build does not take a scope", types.ErrInvalidInput, o.Mode)
		}
	case types.BuildScoped:
		if o.Scope == "" {
			return fmt.Errorf("%w: scoped build requires an entity", types.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown build mode %q", types.ErrInvalidInput, o.Mode)
	}
	return nil
}

// New creates an indexer writing to the live vector index and keyword store
func New(vector *vectorindex.Index, keyword storage.Storage, cfg Config, opts ...Option) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	chunkCfg := cfg.Chunking
	if chunkCfg == (chunker.Config{}) {
		chunkCfg = chunker.DefaultConfig()
	}

	idx := &Indexer{
		chunker:   chunker.NewWithConfig(chunkCfg),
		vector:    vector,
		keyword:   keyword,
		vectorDir: cfg.VectorDir,
		workers:   cfg.Workers,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Running reports the run id of the build holding the lock, if any
func (idx *Indexer) Running() (string, bool) {
	return idx.lock.Held()
}

// Build chunks docs and replaces what opts selects in both indices. Either
// both indices reflect the build afterwards or neither changed. A returned
// report may accompany an error; its Failures name the affected chunks.
func (idx *Indexer) Build(ctx context.Context, docs []*types.Document, opts BuildOptions) (*types.BuildReport, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	report := newReport(opts.Mode, opts.Scope)
	report.Documents = len(docs)

	if !idx.lock.TryAcquire(report.RunID) {
		holder, _ := idx.lock.Held()
		return nil, fmt.Errorf("%w: run %s holds the index", types.ErrBuildInProgress, holder)
	}
	defer idx.lock.Release()

	chunks, err := idx.prepare(ctx, docs, opts)
	if err != nil {
		return report, err
	}
	for _, ch := range chunks {
		report.PerEntity[ch.EntityID]++
	}

	idx.logger.Info("build started",
		slog.String("run_id", report.RunID),
		slog.String("mode", string(opts.Mode)),
		slog.String("scope", opts.Scope),
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(chunks)))

	if err := idx.apply(ctx, report, chunks); err != nil {
		idx.logger.Error("build failed",
			slog.String("run_id", report.RunID),
			slog.String("error", err.Error()))
		return report, err
	}
	return report, nil
}

// DeleteEntity removes every chunk owned by entityID from both indices
func (idx *Indexer) DeleteEntity(ctx context.Context, entityID string) (*types.BuildReport, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity is required", types.ErrInvalidInput)
	}

	report := newReport(types.BuildDelete, entityID)
	if !idx.lock.TryAcquire(report.RunID) {
		holder, _ := idx.lock.Held()
		return nil, fmt.Errorf("%w: run %s holds the index", types.ErrBuildInProgress, holder)
	}
	defer idx.lock.Release()

	report.PerEntity[entityID] = 0
	if err := idx.apply(ctx, report, nil); err != nil {
		return report, err
	}
	return report, nil
}

func newReport(mode types.BuildMode, scope string) *types.BuildReport {
	return &types.BuildReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Scope:     scope,
		PerEntity: make(map[string]int),
		StartedAt: time.Now().UTC(),
	}
}

// prepare validates docs, chunks them concurrently and assigns chunk ids.
// Sequence numbers run per (entity, document type, date part) across
// documents taken in source path order, so ids do not depend on the order
// the caller supplied.
func (idx *Indexer) prepare(ctx context.Context, docs []*types.Document, opts BuildOptions) ([]*types.Chunk, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents to index", types.ErrInvalidInput)
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return nil, err
		}
		if opts.Mode == types.BuildScoped && doc.EntityID != opts.Scope {
			return nil, fmt.Errorf("%w: document %q belongs to %s, not %s",
				types.ErrInvalidInput, doc.SourcePath, doc.EntityID, opts.Scope)
		}
	}

	sorted := append([]*types.Document(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SourcePath != sorted[j].SourcePath {
			return sorted[i].SourcePath < sorted[j].SourcePath
		}
		return sorted[i].EntityID < sorted[j].EntityID
	})

	perDoc := make([][]*types.Chunk, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, doc := range sorted {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perDoc[i] = idx.chunker.ChunkDocument(doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	next := make(map[string]int)
	seen := make(map[string]string)
	var chunks []*types.Chunk
	for i, doc := range sorted {
		group := doc.EntityID + "\x00" + doc.DocumentType + "\x00" + doc.DatePart()
		for _, ch := range perDoc[i] {
			ch.Sequence = next[group]
			next[group]++
			ch.AssignID()

			if other, dup := seen[ch.ID]; dup {
				return nil, fmt.Errorf("%w: chunk id %s produced by both %q and %q",
					types.ErrInvalidInput, ch.ID, other, doc.SourcePath)
			}
			seen[ch.ID] = doc.SourcePath

			if err := ch.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
			}
			chunks = append(chunks, ch)
		}
	}
	return chunks, nil
}

// apply stages the new state of both indices and commits them in order:
// keyword transaction, vector directory rename, in-memory swap. Nothing is
// visible to searches until the swap.
func (idx *Indexer) apply(ctx context.Context, report *types.BuildReport, chunks []*types.Chunk) error {
	next := idx.vector.Clone()
	var vectorRemoved int
	switch report.Mode {
	case types.BuildFull:
		vectorRemoved = next.Len()
		next.Clear()
	case types.BuildScoped, types.BuildDelete:
		vectorRemoved = next.RemoveEntity(report.Scope)
	}

	if len(chunks) > 0 {
		if err := next.Add(ctx, chunks); err != nil {
			failed := chunkIDs(chunks)
			var embErr *vectorindex.EmbedError
			if errors.As(err, &embErr) && len(embErr.ChunkIDs) > 0 {
				failed = embErr.ChunkIDs
			}
			report.AddFailure(err, failed...)
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
	}

	tx, err := idx.keyword.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var keywordRemoved int
	switch report.Mode {
	case types.BuildFull:
		keywordRemoved, err = tx.DeleteAll(ctx)
	case types.BuildScoped, types.BuildDelete:
		keywordRemoved, err = tx.DeleteByEntity(ctx, report.Scope)
	}
	if err != nil {
		return err
	}

	if len(chunks) > 0 {
		if _, err := tx.UpsertChunks(ctx, chunks); err != nil {
			// The keyword store fails a whole transaction, so every chunk of it is reported.
			report.AddFailure(err, chunkIDs(chunks)...)
			return err
		}
	}

	var staged *vectorindex.Staged
	if idx.vectorDir != "" {
		staged, err = next.Stage(idx.vectorDir)
		if err != nil {
			return fmt.Errorf("failed to stage vector index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if staged != nil {
			_ = staged.Abort()
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	var checksum string
	if staged != nil {
		checksum = staged.Checksum()
		if err := staged.Commit(); err != nil {
			// The keyword store already committed; keep this process
			// consistent and report the on-disk divergence.
			idx.publish(next)
			return &types.IndexCorruptionError{
				Path:   idx.vectorDir,
				Reason: "vector index not published after keyword commit",
				Err:    err,
			}
		}
	}
	idx.publish(next)

	if keywordRemoved != vectorRemoved {
		idx.logger.Warn("indices disagreed before build",
			slog.String("run_id", report.RunID),
			slog.Int("keyword_removed", keywordRemoved),
			slog.Int("vector_removed", vectorRemoved))
	}
	report.ChunksAdded = len(chunks)
	report.ChunksRemoved = max(keywordRemoved, vectorRemoved)

	warnings, err := idx.Verify(ctx, verifyScope(report))
	if err != nil {
		idx.logger.Warn("post-build verification failed", slog.String("error", err.Error()))
	}
	report.Warnings = warnings
	report.Duration = time.Since(report.StartedAt)

	idx.record(ctx, report, checksum)

	idx.logger.Info("build committed",
		slog.String("run_id", report.RunID),
		slog.Int("added", report.ChunksAdded),
		slog.Int("removed", report.ChunksRemoved),
		slog.Int("warnings", len(report.Warnings)),
		slog.Duration("duration", report.Duration))
	return nil
}

func (idx *Indexer) publish(next *vectorindex.Index) {
	idx.vector.Swap(next)
	for _, c := range idx.caches {
		c.InvalidateCache()
	}
}

func (idx *Indexer) record(ctx context.Context, report *types.BuildReport, checksum string) {
	count, err := idx.keyword.CountChunks(ctx)
	if err != nil {
		idx.logger.Warn("failed to count chunks", slog.String("error", err.Error()))
	}
	rec := storage.NewBuildRecord(report, count, idx.vector.Config().EmbeddingModelID, checksum)
	if err := idx.keyword.RecordBuild(ctx, rec); err != nil {
		idx.logger.Warn("failed to record build", slog.String("run_id", report.RunID), slog.String("error", err.Error()))
	}
}

func verifyScope(report *types.BuildReport) string {
	if report.Mode == types.BuildScoped || report.Mode == types.BuildDelete {
		return report.Scope
	}
	return ""
}

// Verify compares the two indices for entityID (every entity when empty)
// and returns a warning per chunk that is missing from one side or whose
// content differs. It fails only when the keyword store cannot be read or
// does not pass its integrity check.
func (idx *Indexer) Verify(ctx context.Context, entityID string) ([]types.ConsistencyWarning, error) {
	if err := idx.keyword.IntegrityCheck(ctx); err != nil {
		return nil, err
	}
	refs, err := idx.keyword.ListChunkRefs(ctx, entityID)
	if err != nil {
		return nil, err
	}

	keyword := make(map[string]string, len(refs))
	for _, ref := range refs {
		keyword[ref.ChunkID] = ref.ContentHash
	}

	var warnings []types.ConsistencyWarning
	inVector := make(map[string]struct{})
	for _, ch := range idx.vector.Chunks() {
		if entityID != "" && ch.EntityID != entityID {
			continue
		}
		inVector[ch.ID] = struct{}{}

		hash, ok := keyword[ch.ID]
		switch {
		case !ok:
			warnings = append(warnings, types.ConsistencyWarning{
				ChunkID:     ch.ID,
				PresentIn:   types.IndexVector,
				MissingFrom: types.IndexKeyword,
				Reason:      "chunk missing from keyword index",
			})
		case hash != ch.ContentHash():
			warnings = append(warnings, types.ConsistencyWarning{
				ChunkID:   ch.ID,
				PresentIn: types.IndexVector,
				Reason:    "content differs between indices",
			})
		}
	}
	for _, ref := range refs {
		if _, ok := inVector[ref.ChunkID]; !ok {
			warnings = append(warnings, types.ConsistencyWarning{
				ChunkID:     ref.ChunkID,
				PresentIn:   types.IndexKeyword,
				MissingFrom: types.IndexVector,
				Reason:      "chunk missing from vector index",
			})
		}
	}

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].ChunkID < warnings[j].ChunkID
	})
	return warnings, nil
}

func chunkIDs(chunks []*types.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	return ids
}
