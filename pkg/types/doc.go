// Package types provides shared type definitions for the recordsearch engine.
//
// # Core Types
//
// Document is the input supplied by a loader: raw text plus the owning
// entity, document type, optional date and source path.
//
// Chunk is the unit of retrieval shared by the vector and keyword indices.
// Its ID is derived deterministically from the owning entity, document type,
// date (or a short hash of the source path for undated documents) and the
// chunk's sequence index:
//
//	id := types.ChunkID("P1", "progress_note", "2024-03-01", 0)
//	// "P1_progress_note_2024-03-01_0"
//
// Re-indexing the same document therefore produces the same ids, and both
// indices overwrite instead of duplicating.
//
// # Search Results
//
// SearchResult carries a Match, a closed set of variants:
//
//	switch m := result.Match.(type) {
//	case types.VectorMatch:  // m.Similarity in [-1, 1]
//	case types.KeywordMatch: // m.BM25, m.Snippet
//	case types.FusedMatch:   // m.Fused, m.Vector, m.Keyword components
//	}
//
// # Errors
//
// DimensionMismatchError, IndexCorruptionError and EmptyIndexError are
// returned by the engine; ConsistencyWarning values are reported alongside
// build and search results. Classify maps any error to a FailureKind so
// callers can tell configuration, load and input failures apart from an
// empty result set.
package types
