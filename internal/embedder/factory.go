package embedder

import (
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	ModelPath         string // hugot model directory
	Dimension         int    // 0 = provider default
	CacheSize         int
	RequestsPerSecond float64 // 0 = unlimited
	Burst             int
}

// New creates an embedder with explicit configuration. Remote providers are
// wrapped with a rate limiter when RequestsPerSecond is set.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	httpOpts := HTTPOptions{Model: cfg.Model, Dimension: cfg.Dimension}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		p, err := NewJinaProvider(cfg.APIKey, cache, httpOpts)
		if err != nil {
			return nil, err
		}
		return NewRateLimited(p, cfg.RequestsPerSecond, cfg.Burst), nil
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cache, httpOpts)
		if err != nil {
			return nil, err
		}
		return NewRateLimited(p, cfg.RequestsPerSecond, cfg.Burst), nil
	case ProviderHugot:
		return NewHugotProvider(cache, HugotOptions{
			Model:     cfg.Model,
			ModelDir:  cfg.ModelPath,
			Dimension: cfg.Dimension,
		})
	case ProviderLocal, "":
		return NewLocalProvider(cache, cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}
