// Package loader reads entity documents from a directory tree.
//
// Each directory directly under the root is an entity; each *.txt file in
// it is one document. Files are read as UTF-8 text without format
// detection. The document type and date are inferred from the file name.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/recordsearch-mcp/internal/chunker"
	"github.com/dshills/recordsearch-mcp/pkg/types"
)

// ErrNoDocuments is returned when a load finds nothing to index
var ErrNoDocuments = errors.New("no documents found")

var dateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Loader loads documents below a root directory
type Loader struct {
	root    string
	prefix  string
	workers int
	logger  *slog.Logger
}

// Option configures a Loader
type Option func(*Loader)

// WithEntityPrefix restricts entities to directory names with prefix
func WithEntityPrefix(prefix string) Option {
	return func(l *Loader) { l.prefix = prefix }
}

// WithLogger sets the logger used for skipped files
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a Loader for root
func New(root string, opts ...Option) *Loader {
	l := &Loader{
		root:    root,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListEntities returns the sorted entity directory names under the root.
// Hidden directories are skipped.
func (l *Loader) ListEntities() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.root, err)
	}

	var entities []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if l.prefix != "" && !strings.HasPrefix(name, l.prefix) {
			continue
		}
		entities = append(entities, name)
	}
	sort.Strings(entities)
	return entities, nil
}

// LoadAll loads every entity under the root
func (l *Loader) LoadAll(ctx context.Context) ([]*types.Document, error) {
	entities, err := l.ListEntities()
	if err != nil {
		return nil, err
	}

	var docs []*types.Document
	for _, entity := range entities {
		entityDocs, err := l.LoadEntity(ctx, entity)
		if err != nil {
			return nil, err
		}
		docs = append(docs, entityDocs...)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoDocuments, l.root)
	}
	return docs, nil
}

// LoadEntity loads the documents of one entity directory, sorted by path
func (l *Loader) LoadEntity(ctx context.Context, entityID string) ([]*types.Document, error) {
	if entityID == "" || strings.ContainsAny(entityID, `/\`) || entityID == "." || entityID == ".." {
		return nil, fmt.Errorf("%w: invalid entity id %q", types.ErrInvalidInput, entityID)
	}

	files, err := filepath.Glob(filepath.Join(l.root, entityID, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", entityID, err)
	}
	sort.Strings(files)

	docs := make([]*types.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := readDocument(entityID, path)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := docs[:0]
	for i, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			l.logger.Warn("skipping empty document", "entity", entityID, "path", files[i])
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func readDocument(entityID, path string) (*types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &types.Document{
		EntityID:     entityID,
		DocumentType: InferDocumentType(path),
		DocumentDate: ExtractDate(path),
		SourcePath:   path,
		Content:      strings.ToValidUTF8(string(data), "�"),
	}, nil
}

// InferDocumentType maps a file name to a document type. The first matching
// rule wins.
func InferDocumentType(path string) string {
	name := strings.ToLower(filepath.Base(path))
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(name, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("progress_note"):
		return chunker.TypeProgressNote
	case has("lab"):
		return chunker.TypeLab
	case has("hra"):
		return chunker.TypeHRA
	case has("cardiology"):
		return chunker.TypeCardiologyConsult
	case has("sleep_study", "polysomnography"):
		return chunker.TypeSleepStudy
	case has("ct_", "mri_", "xray"):
		return chunker.TypeImaging
	case has("prior_year", "problem_list"):
		return chunker.TypePriorYearProblems
	case has("consult"):
		return chunker.TypeOtherConsult
	default:
		return chunker.TypeOther
	}
}

// ExtractDate returns the first YYYY-MM-DD in the file name, or "" when
// there is none. The value is never parsed.
func ExtractDate(path string) string {
	return dateRe.FindString(filepath.Base(path))
}
