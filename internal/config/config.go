// Package config loads recordsearch settings from a TOML file and the
// environment.
//
// Precedence, lowest first: Default(), the TOML file, environment variables,
// then whatever the caller (usually CLI flags) sets afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables
const (
	EnvConfigPath        = "RECORDSEARCH_CONFIG"
	EnvIndexDir          = "RECORDSEARCH_INDEX_DIR"
	EnvEmbeddingProvider = "RECORDSEARCH_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "RECORDSEARCH_EMBEDDING_MODEL"
	EnvModelPath         = "RECORDSEARCH_MODEL_PATH"
	EnvLogLevel          = "RECORDSEARCH_LOG_LEVEL"
	EnvLogFormat         = "RECORDSEARCH_LOG_FORMAT"
	EnvJinaAPIKey        = "JINA_API_KEY"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
)

// DefaultDirName is the directory under the user's home holding config and indices
const DefaultDirName = ".recordsearch"

// Config is the full application configuration
type Config struct {
	IndexDir  string          `toml:"index_dir"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Search    SearchConfig    `toml:"search"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Loader    LoaderConfig    `toml:"loader"`
	Log       LogConfig       `toml:"log"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider          string  `toml:"provider"` // local, hugot, jina, openai
	Model             string  `toml:"model"`
	ModelPath         string  `toml:"model_path"` // hugot model directory
	APIKey            string  `toml:"api_key,omitempty"`
	Dimension         int     `toml:"dimension"` // 0 = provider default
	CacheSize         int     `toml:"cache_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 = unlimited
	Burst             int     `toml:"burst"`
}

// SearchConfig tunes the hybrid coordinator
type SearchConfig struct {
	VectorWeight    float64 `toml:"vector_weight"`
	KeywordWeight   float64 `toml:"keyword_weight"`
	CandidateFactor int     `toml:"candidate_factor"`
	DefaultTopK     int     `toml:"default_top_k"`
	MaxTopK         int     `toml:"max_top_k"`
	CacheSize       int     `toml:"cache_size"`
	CacheTTLSeconds int     `toml:"cache_ttl_seconds"`
}

// CacheTTL returns the cache TTL as a duration
func (s SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// ChunkingConfig holds chunk size policy, in characters except MaxTokens
type ChunkingConfig struct {
	MinChunkSize int `toml:"min_chunk_size"`
	MaxChunkSize int `toml:"max_chunk_size"`
	OverlapSize  int `toml:"overlap_size"`
	MaxTokens    int `toml:"max_tokens"`
}

// LoaderConfig configures the filesystem document loader
type LoaderConfig struct {
	EntityPrefix string `toml:"entity_prefix"`
}

// LogConfig configures logging output
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		IndexDir: filepath.Join(homeDir(), DefaultDirName, "index"),
		Embedding: EmbeddingConfig{
			Provider:  "local",
			CacheSize: 10000,
			Burst:     1,
		},
		Search: SearchConfig{
			VectorWeight:    0.5,
			KeywordWeight:   0.5,
			CandidateFactor: 4,
			DefaultTopK:     10,
			MaxTopK:         100,
			CacheSize:       1000,
			CacheTTLSeconds: 3600,
		},
		Chunking: ChunkingConfig{
			MinChunkSize: 100,
			MaxChunkSize: 1500,
			OverlapSize:  100,
			MaxTokens:    480,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// DefaultPath returns ~/.recordsearch/config.toml
func DefaultPath() string {
	return filepath.Join(homeDir(), DefaultDirName, "config.toml")
}

// Load reads the config file at path over the defaults and applies the
// environment. An empty path means $RECORDSEARCH_CONFIG or DefaultPath; a
// missing file at the default location is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path = env
			explicit = true
		} else {
			path = DefaultPath()
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.IndexDir = expandHome(cfg.IndexDir)
	cfg.Embedding.ModelPath = expandHome(cfg.Embedding.ModelPath)
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvIndexDir); v != "" {
		c.IndexDir = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		c.Embedding.ModelPath = v
	}
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case "jina":
			c.Embedding.APIKey = os.Getenv(EnvJinaAPIKey)
		case "openai":
			c.Embedding.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("RECORDSEARCH_CANDIDATE_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.CandidateFactor = n
		}
	}
}

// Validate checks the configuration for values the engine cannot work with
func (c *Config) Validate() error {
	var errs []error

	if c.IndexDir == "" {
		errs = append(errs, errors.New("index_dir is required"))
	}
	switch c.Embedding.Provider {
	case "local", "hugot", "jina", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, errors.New("embedding.dimension must be >= 0"))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embedding.requests_per_second must be >= 0"))
	}
	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		errs = append(errs, errors.New("search weights must be >= 0"))
	}
	if c.Search.VectorWeight+c.Search.KeywordWeight == 0 {
		errs = append(errs, errors.New("search weights cannot both be 0"))
	}
	if c.Search.CandidateFactor < 1 {
		errs = append(errs, errors.New("search.candidate_factor must be >= 1"))
	}
	if c.Search.DefaultTopK < 1 || c.Search.MaxTopK < c.Search.DefaultTopK {
		errs = append(errs, errors.New("search.default_top_k must be >= 1 and <= max_top_k"))
	}
	if c.Chunking.MaxChunkSize <= c.Chunking.MinChunkSize {
		errs = append(errs, errors.New("chunking.max_chunk_size must exceed min_chunk_size"))
	}
	if c.Chunking.OverlapSize < 0 || c.Chunking.OverlapSize >= c.Chunking.MaxChunkSize {
		errs = append(errs, errors.New("chunking.overlap_size must be in [0, max_chunk_size)"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "pretty", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Encode renders the config as TOML with secrets masked
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "********"
	}
	return toml.Marshal(masked)
}

// Save writes the config as TOML, creating the parent directory
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
