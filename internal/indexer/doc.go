// Package indexer builds and maintains the vector and keyword indices as
// one unit.
//
// # Basic Usage
//
//	idx := indexer.New(vector, keyword, indexer.Config{VectorDir: dir},
//	    indexer.WithCacheInvalidator(searcher))
//
//	report, err := idx.Build(ctx, docs, indexer.BuildOptions{Scope: "P1"})
//
// # Build Pipeline
//
//  1. Validate: every document needs an owning entity, a type and content
//  2. Chunk: documents are chunked in parallel by a bounded worker pool
//  3. Identify: ids are derived from entity, type, date and sequence
//  4. Embed: a copy of the live vector index receives the new vectors
//  5. Stage: the keyword transaction is filled and the vector files are
//     written beside the live directory
//  6. Commit: keyword transaction, then directory rename, then the
//     in-memory swap and cache invalidation
//
// A failure before step 6 leaves both indices as they were. Searches keep
// reading the previous state until the swap.
//
// # Build Modes
//
// Full clears both indices first. Scoped replaces one entity's chunks and
// leaves every other entity untouched. Upsert replaces chunks by id.
// DeleteEntity removes an entity without adding anything.
//
// # Concurrency
//
// Only one build runs at a time. A second caller gets ErrBuildInProgress
// straight away instead of waiting.
package indexer
