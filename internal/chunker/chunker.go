package chunker

import (
	"strings"

	"github.com/dshills/recordsearch-mcp/pkg/types"
)

const (
	// DefaultMinChunkSize is the size in characters under which a section
	// or trailing piece is merged into a neighbour
	DefaultMinChunkSize = 100

	// DefaultMaxChunkSize bounds paragraph chunks in characters
	DefaultMaxChunkSize = 1500

	// DefaultOverlapSize is the paragraph overlap carried between chunks
	DefaultOverlapSize = 100

	// DefaultMaxTokens is the embedding budget per chunk, below the usual 512
	// so special tokens still fit
	DefaultMaxTokens = 480

	// smallSectionThreshold is the size under which delimited sections are
	// merged forward
	smallSectionThreshold = 200

	// minSplitContentSize is the smallest split piece worth keeping
	minSplitContentSize = 50
)

// Document types with dedicated strategies
const (
	TypeProgressNote      = "progress_note"
	TypeHRA               = "hra"
	TypeLab               = "lab"
	TypeCardiologyConsult = "cardiology_consult"
	TypeSleepStudy        = "sleep_study"
	TypeOtherConsult      = "other_consult"
	TypeImaging           = "imaging"
	TypePriorYearProblems = "prior_year_problems"
	TypeOther             = "other"
)

// Config controls chunk sizes
type Config struct {
	MinChunkSize int
	MaxChunkSize int
	OverlapSize  int
	MaxTokens    int
}

// DefaultConfig returns the standard chunk sizes
func DefaultConfig() Config {
	return Config{
		MinChunkSize: DefaultMinChunkSize,
		MaxChunkSize: DefaultMaxChunkSize,
		OverlapSize:  DefaultOverlapSize,
		MaxTokens:    DefaultMaxTokens,
	}
}

// Chunker splits documents into section-aware chunks
type Chunker struct {
	cfg Config
}

// New creates a Chunker with the default configuration
func New() *Chunker {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Chunker. Zero fields take their defaults.
func NewWithConfig(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	if cfg.OverlapSize < 0 {
		cfg.OverlapSize = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration
func (c *Chunker) Config() Config {
	return c.cfg
}

// piece is a chunk body before metadata is attached
type piece struct {
	section string
	content string
}

// ChunkDocument splits doc into chunks carrying the document's metadata.
// Sequence holds the position within the document; ids are assigned by the
// caller. The output depends only on the document and the configuration.
func (c *Chunker) ChunkDocument(doc *types.Document) []*types.Chunk {
	var pieces []piece
	switch doc.DocumentType {
	case TypeProgressNote:
		pieces = c.chunkSOAP(doc.Content)
	case TypeHRA, TypeLab, TypeCardiologyConsult, TypeSleepStudy,
		TypeOtherConsult, TypeImaging, TypePriorYearProblems:
		pieces = c.chunkDelimited(doc.Content)
	default:
		pieces = c.chunkParagraphs(doc.Content)
	}

	chunks := make([]*types.Chunk, 0, len(pieces))
	for _, p := range pieces {
		content := strings.TrimSpace(p.content)
		if content == "" {
			continue
		}
		chunks = append(chunks, &types.Chunk{
			Sequence:     len(chunks),
			Content:      content,
			Section:      p.section,
			EntityID:     doc.EntityID,
			DocumentType: doc.DocumentType,
			DocumentDate: doc.DocumentDate,
			SourcePath:   doc.SourcePath,
		})
	}

	// Never lose a non-empty document.
	if len(chunks) == 0 && strings.TrimSpace(doc.Content) != "" {
		chunks = append(chunks, &types.Chunk{
			Content:      strings.TrimSpace(doc.Content),
			EntityID:     doc.EntityID,
			DocumentType: doc.DocumentType,
			DocumentDate: doc.DocumentDate,
			SourcePath:   doc.SourcePath,
		})
	}
	return chunks
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return types.EstimateTokenCount(text)
}

func withHeader(content, header string) string {
	if header == "" {
		return content
	}
	return header + "\n\n" + content
}
