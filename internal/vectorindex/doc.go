// Package vectorindex is the dense half of the retrieval engine: a flat,
// exact inner-product index over unit-normalized chunk embeddings.
//
// Every vector is scored on each search, so results are exact and
// deterministic; ties keep insertion order. Owner filtering happens during
// scoring, before truncation.
//
// On disk an index is a directory holding three files:
//
//	vectors.bin   float32 little-endian, row-major, chunk_count x dimension
//	chunks.json   chunk records in the same order
//	config.json   {embedding_model_id, dimension, chunk_count, ...}
//
// Stage writes a complete copy beside the live directory and Commit swaps
// it in by rename, so a reader never sees a half-written index. Load checks
// the persisted dimension against the embedder before anything else and
// reports damaged files as *types.IndexCorruptionError.
package vectorindex
