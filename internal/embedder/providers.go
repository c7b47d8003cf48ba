package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
	ProviderHugot  = "hugot"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

const (
	jinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	openAIEndpoint = "https://api.openai.com/v1/embeddings"
)

// HTTPProvider implements Embedder against an OpenAI-compatible
// /v1/embeddings endpoint. Jina and OpenAI differ only in endpoint, default
// model and dimension.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	reduceDims bool // send "dimensions" in the request
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// HTTPOptions overrides HTTPProvider defaults
type HTTPOptions struct {
	Model     string
	Dimension int    // 0 = model default
	Endpoint  string // for tests and self-hosted gateways
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache, opts HTTPOptions) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderJina, jinaEndpoint, DefaultJinaModel, JinaDimension, apiKey, cache, opts)
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, opts HTTPOptions) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderOpenAI, openAIEndpoint, DefaultOpenAIModel, OpenAIDimension, apiKey, cache, opts)
}

func newHTTPProvider(name, endpoint, model string, dimension int, apiKey string, cache *Cache, opts HTTPOptions) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key not set", ErrNoProviderEnabled, name)
	}

	p := &HTTPProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}
	if opts.Model != "" {
		p.model = opts.Model
	}
	if opts.Dimension > 0 {
		p.dimension = opts.Dimension
		p.reduceDims = true
	}
	if opts.Endpoint != "" {
		p.endpoint = opts.Endpoint
	}
	return p, nil
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := cachedBatch(p.cache, p.model, req.Texts, func(texts []string) ([]*Embedding, error) {
		out, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
			return p.callAPI(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.name, err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      p.model,
	}, nil
}

type embeddingAPIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingAPIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	reqBody := embeddingAPIRequest{Input: texts, Model: p.model}
	if p.reduceDims {
		reqBody.Dimensions = p.dimension
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp embeddingAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// The API may return data out of order; Index is authoritative.
	sort.Slice(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     p.model,
		}
	}

	return embeddings, nil
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
