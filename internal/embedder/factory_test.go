package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		provider string
		dim      int
		wantErr  bool
	}{
		{"default is local", Config{}, ProviderLocal, LocalDimension, false},
		{"local with dimension", Config{Provider: "LOCAL", Dimension: 128}, ProviderLocal, 128, false},
		{"jina", Config{Provider: "jina", APIKey: "k"}, ProviderJina, JinaDimension, false},
		{"openai rate limited", Config{Provider: "openai", APIKey: "k", RequestsPerSecond: 5}, ProviderOpenAI, OpenAIDimension, false},
		{"jina without key", Config{Provider: "jina"}, "", 0, true},
		{"unknown", Config{Provider: "word2vec"}, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer emb.Close()
			assert.Equal(t, tt.provider, emb.Provider())
			assert.Equal(t, tt.dim, emb.Dimension())
		})
	}
}

func TestRateLimited(t *testing.T) {
	local, _ := NewLocalProvider(nil, 8)
	assert.Same(t, Embedder(local), NewRateLimited(local, 0, 1), "rps 0 disables limiting")

	limited := NewRateLimited(local, 1000, 2)
	_, err := limited.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"x"}})
	assert.ErrorIs(t, err, context.Canceled)
}
