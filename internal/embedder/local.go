package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultLocalModel is the model id recorded for LocalProvider indices
const DefaultLocalModel = "local-feature-hash-v1"

// LocalProvider produces deterministic feature-hashed bag-of-words vectors.
// It needs no network or model files, and texts sharing words get similar
// vectors, which is enough for offline use and tests.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder. dimension <= 0 selects
// LocalDimension.
func NewLocalProvider(cache *Cache, dimension int) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     fmt.Sprintf("%s-%d", DefaultLocalModel, dimension),
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(l.model, req.Text)
	if emb, ok := l.cache.Get(hash); ok {
		return emb, nil
	}

	emb := &Embedding{
		Vector:    NormalizeVector(l.hashText(req.Text)),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}
	l.cache.Set(hash, emb)
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

// hashText maps each lowercased word (and word bigram) to a signed bucket
func (l *LocalProvider) hashText(text string) []float32 {
	vector := make([]float32, l.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dimension))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vector[idx] += weight
	}

	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}

	// Text with no words still gets a stable non-zero vector.
	if len(words) == 0 {
		add(text, 1)
	}
	return vector
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
