package embedder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultHugotModel matches the model the clinical corpus was tuned for
const DefaultHugotModel = "NeuML/pubmedbert-base-embeddings"

// HugotDimension is the output size of DefaultHugotModel
const HugotDimension = 768

// HugotOptions configures a HugotProvider
type HugotOptions struct {
	Model     string // Hugging Face model name
	ModelDir  string // directory holding (or receiving) downloaded models
	Dimension int    // expected output size; 0 = HugotDimension
}

// HugotProvider runs a sentence-transformer model in process with the hugot
// pure Go backend.
type HugotProvider struct {
	model     string
	dimension int
	cache     *Cache

	mu       sync.Mutex // the pipeline is not safe for concurrent use
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewHugotProvider loads (downloading if needed) the model and creates the
// feature extraction pipeline.
func NewHugotProvider(cache *Cache, opts HugotOptions) (*HugotProvider, error) {
	if opts.Model == "" {
		opts.Model = DefaultHugotModel
	}
	if opts.Dimension <= 0 {
		opts.Dimension = HugotDimension
	}

	modelPath, err := PrepareModel(opts.Model, opts.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "recordsearch-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &HugotProvider{
		model:     opts.Model,
		dimension: opts.Dimension,
		cache:     cache,
		session:   session,
		pipeline:  pipeline,
	}, nil
}

// PrepareModel returns the local path of model under dir, downloading it
// when absent. An empty dir means ./models.
func PrepareModel(model, dir string) (string, error) {
	if dir == "" {
		dir = "./models"
	}

	modelPath := filepath.Join(dir, strings.ReplaceAll(model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	downloadOptions := hugot.NewDownloadOptions()
	downloadOptions.OnnxFilePath = "onnx/model.onnx"
	downloadedPath, err := hugot.DownloadModel(model, dir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", model, err)
	}
	return downloadedPath, nil
}

func (h *HugotProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (h *HugotProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := cachedBatch(h.cache, h.model, req.Texts, func(texts []string) ([]*Embedding, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h.mu.Lock()
		result, err := h.pipeline.RunPipeline(texts)
		h.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("%w: hugot: %v", ErrProviderFailed, err)
		}

		out := make([]*Embedding, len(result.Embeddings))
		for i, vector := range result.Embeddings {
			out[i] = &Embedding{
				Vector:    vector,
				Dimension: len(vector),
				Provider:  ProviderHugot,
				Model:     h.model,
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderHugot,
		Model:      h.model,
	}, nil
}

func (h *HugotProvider) Dimension() int {
	return h.dimension
}

func (h *HugotProvider) Provider() string {
	return ProviderHugot
}

func (h *HugotProvider) Model() string {
	return h.model
}

func (h *HugotProvider) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return nil
	}
	err := h.session.Destroy()
	h.session = nil
	return err
}
