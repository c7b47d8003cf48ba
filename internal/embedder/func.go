package embedder

import (
	"context"
)

// EmbedFunc embeds a single text
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// FuncEmbedder adapts an EmbedFunc to the Embedder interface. It is mostly
// useful in tests, where a fixed mapping or an injected failure is needed.
type FuncEmbedder struct {
	model     string
	dimension int
	fn        EmbedFunc
}

// NewFuncEmbedder creates an embedder reporting the given model and dimension
func NewFuncEmbedder(model string, dimension int, fn EmbedFunc) *FuncEmbedder {
	return &FuncEmbedder{model: model, dimension: dimension, fn: fn}
}

func (f *FuncEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	vector, err := f.fn(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Provider:  "func",
		Model:     f.model,
		Hash:      ComputeHash(f.model, req.Text),
	}, nil
}

func (f *FuncEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	out := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := f.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, &TextError{Index: i, Err: err}
		}
		out[i] = emb
	}
	return &BatchEmbeddingResponse{Embeddings: out, Provider: "func", Model: f.model}, nil
}

func (f *FuncEmbedder) Dimension() int   { return f.dimension }
func (f *FuncEmbedder) Provider() string { return "func" }
func (f *FuncEmbedder) Model() string    { return f.model }
func (f *FuncEmbedder) Close() error     { return nil }
