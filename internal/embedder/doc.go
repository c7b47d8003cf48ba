// Package embedder turns chunk text into dense vectors.
//
// Four providers implement Embedder:
//
//   - jina and openai call an OpenAI-compatible /v1/embeddings endpoint
//     with retry and optional rate limiting
//   - hugot runs a sentence-transformer model in process
//   - local is a deterministic feature-hashing embedder that needs no
//     network, used offline and in tests
//
// Every provider reports Model() and Dimension(); the vector index persists
// both and refuses to load an index whose dimension differs from the
// configured embedder.
//
// Embeddings are cached in an LRU keyed by sha256(model, text). Cached
// vectors are copied on read and write, so callers may mutate results.
//
//	emb, err := embedder.New(embedder.Config{Provider: "local"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"Assessment: type 2 diabetes", "HbA1c 7.2%"},
//	})
package embedder
