package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a wrapped embedder with a token bucket.
// One token is spent per request, whatever the batch size.
type RateLimited struct {
	Embedder
	bucket *rate.Limiter
}

// NewRateLimited wraps inner. rps <= 0 returns inner unchanged.
func NewRateLimited(inner Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Embedder: inner,
		bucket:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := r.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Embedder.GenerateEmbedding(ctx, req)
}

func (r *RateLimited) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := r.bucket.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.Embedder.GenerateBatch(ctx, req)
}
