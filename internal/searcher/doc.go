// Package searcher coordinates queries across the vector index and the
// keyword store.
//
// # Modes
//
//   - ModeVector: cosine similarity over unit vectors, scores in [-1, 1]
//   - ModeKeyword: FTS5 BM25, scores are -bm25() so higher is better
//   - ModeHybrid (default): both sides run concurrently and are fused
//
// # Fusion
//
// BM25 and cosine scores live on unrelated scales, so each candidate list is
// min-max normalized on its own before weighting:
//
//	fused = VectorWeight*nv + KeywordWeight*nk
//
// A side that did not return a chunk contributes 0 for it. A list whose
// scores are all equal normalizes to 1 for every entry. Results are sorted
// by fused score, then chunk id, and truncated to TopK.
//
// Each side is asked for TopK*CandidateFactor candidates so that chunks
// ranked modestly by one side but well by the other still meet in the
// fused list. Entity filters are applied inside each index before
// truncation, and once more on the fused list.
//
// # Failure Handling
//
// If one side fails during a hybrid search the response is built from the
// other and SearchResponse.Degraded names the failed index. Chunk ids seen
// by only one side are checked against the other index and reported as
// ConsistencyWarnings rather than errors.
//
// # Caching
//
// Responses are cached in an LRU keyed by a SHA-256 of the normalized
// request and expire after Config.CacheTTL. The index builder calls
// InvalidateCache after every committed build.
package searcher
