package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TokensPerChar is the heuristic used for estimating tokens (chars/4)
const TokensPerChar = 4

// Document is a source document supplied by a loader. It carries the same
// metadata as a Chunk minus the identity.
type Document struct {
	EntityID     string `json:"owning_entity_id"`
	DocumentType string `json:"document_type"`
	DocumentDate string `json:"document_date,omitempty"`
	SourcePath   string `json:"source_path"`
	Content      string `json:"content"`
}

// Validate checks the fields required to chunk a document
func (d *Document) Validate() error {
	if strings.TrimSpace(d.EntityID) == "" {
		return fmt.Errorf("%w: document %q has no owning entity", ErrInvalidInput, d.SourcePath)
	}
	if strings.TrimSpace(d.DocumentType) == "" {
		return fmt.Errorf("%w: document %q has no document type", ErrInvalidInput, d.SourcePath)
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: document %q is empty", ErrInvalidInput, d.SourcePath)
	}
	return nil
}

// DatePart returns the date component used in chunk ids. Undated documents
// use a short hash of their source path so ids stay stable across runs.
func (d *Document) DatePart() string {
	return DatePart(d.DocumentDate, d.SourcePath)
}

// Chunk is the unit of retrieval shared by the vector and keyword indices
type Chunk struct {
	// Identification
	ID       string `json:"chunk_id"`
	Sequence int    `json:"sequence_index"`

	// Content
	Content string `json:"content"`
	Section string `json:"section,omitempty"`

	// Metadata
	EntityID     string `json:"owning_entity_id"`
	DocumentType string `json:"document_type"`
	DocumentDate string `json:"document_date,omitempty"`
	SourcePath   string `json:"source_path"`
}

// idEscaper hides the separator inside the entity and date components
var idEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// ChunkID derives the deterministic chunk id from its identity inputs. The
// entity and date components are escaped so only the document type may
// contain "_"; it is everything between the first separator and the last
// two. Distinct inputs never share an id, and the usual ids stay readable:
// "P1_progress_note_2024-03-01_0".
func ChunkID(entityID, documentType, datePart string, sequence int) string {
	return fmt.Sprintf("%s_%s_%s_%d", idEscaper.Replace(entityID), documentType, idEscaper.Replace(datePart), sequence)
}

// DatePart returns date when set, otherwise "h" followed by the first eight
// hex characters of sha256(sourcePath).
func DatePart(date, sourcePath string) string {
	if date != "" {
		return date
	}
	h := sha256.Sum256([]byte(sourcePath))
	return "h" + hex.EncodeToString(h[:])[:8]
}

// AssignID computes and stores the chunk id from the chunk's own metadata
func (c *Chunk) AssignID() {
	c.ID = ChunkID(c.EntityID, c.DocumentType, DatePart(c.DocumentDate, c.SourcePath), c.Sequence)
}

// Validate checks that the chunk can be indexed
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk id is required")
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("chunk %s: content cannot be empty", c.ID)
	}
	if c.EntityID == "" {
		return fmt.Errorf("chunk %s: owning entity is required", c.ID)
	}
	return nil
}

// ContentHash returns the hex SHA-256 of the chunk content
func (c *Chunk) ContentHash() string {
	h := sha256.Sum256([]byte(c.Content))
	return hex.EncodeToString(h[:])
}

// TokenCount estimates the number of tokens in the chunk
func (c *Chunk) TokenCount() int {
	return EstimateTokenCount(c.Content)
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
