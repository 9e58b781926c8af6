// Package embedding provides text embedding providers and an LRU cache wrapper.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider   string
	Model      string
	ModelPath  string
	BaseURL    string
	APIKey     string
	Dimensions int
	MaxTokens  int
	CacheSize  int
	Timeout    time.Duration
	MaxRetries int
}

// New builds the configured provider and wraps it in an LRU cache when CacheSize > 0.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderMock, "":
		e = NewMockEmbedder(opts.Dimensions)
	case ProviderONNX:
		e, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(opts)
	case ProviderOllama:
		e, err = NewOllamaEmbedder(opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: mock, onnx, openai, ollama)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		return NewCachedEmbedder(e, opts.CacheSize), nil
	}
	return e, nil
}

// checkDimensions verifies that every vector has the expected dimensionality.
func checkDimensions(provider string, want int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%s: embedding %d has %d dimensions, expected %d", provider, i, len(v), want)
		}
	}
	return nil
}
