package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// TextError reports which text of a batch a provider could not embed.
// Index is the position in the request's Texts.
type TextError struct {
	Index int
	Err   error
}

func (e *TextError) Error() string {
	return fmt.Sprintf("embedding text %d: %v", e.Index, e.Err)
}

func (e *TextError) Unwrap() error {
	return e.Err
}

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text string
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse represents a batch response. Embeddings are in the
// same order as the request texts.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder is the embed(text) -> vector collaborator of the engine
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts efficiently
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model identifier persisted with the index
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{cache: cache}
}

// Get retrieves a deep copy of an embedding from cache
func (c *Cache) Get(hash string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return cloneEmbedding(emb), true
}

// Set stores a copy of an embedding in cache
func (c *Cache) Set(hash string, emb *Embedding) {
	if c == nil || emb == nil {
		return
	}
	c.cache.Add(hash, cloneEmbedding(emb))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

func cloneEmbedding(emb *Embedding) *Embedding {
	vector := make([]float32, len(emb.Vector))
	copy(vector, emb.Vector)
	return &Embedding{
		Vector:    vector,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

// ComputeHash computes SHA-256 hash of text for caching. The model is part
// of the key so switching models never serves stale vectors.
func ComputeHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if text == "" {
			return &TextError{Index: i, Err: fmt.Errorf("%w: text is empty", ErrInvalidInput)}
		}
	}

	return nil
}

// cachedBatch serves what it can from cache and calls fetch for the rest,
// preserving request order.
func cachedBatch(cache *Cache, model string, texts []string, fetch func([]string) ([]*Embedding, error)) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if emb, ok := cache.Get(ComputeHash(model, text)); ok {
			out[i] = emb
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := fetch(missTexts)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(missTexts), len(fetched))
	}

	for j, emb := range fetched {
		emb.Hash = ComputeHash(model, missTexts[j])
		cache.Set(emb.Hash, emb)
		out[missIdx[j]] = emb
	}
	return out, nil
}

// NormalizeVector returns v scaled to unit length. A zero vector is returned
// unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	result := make([]float32, len(v))
	if sum == 0 {
		copy(result, v)
		return result
	}

	norm := math.Sqrt(sum)
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}
