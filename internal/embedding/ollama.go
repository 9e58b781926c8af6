package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gat45/usine-a-gaz/pkg/utils"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama embedder.
func NewOllamaEmbedder(opts Options) (*OllamaEmbedder, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("ollama embedder: dimensions must be positive")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := opts.Model
	if model == "" {
		model = defaultOllamaModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		baseURL:    baseURL,
		model:      model,
		dimensions: opts.Dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Embed requests one embedding and normalizes it.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embeddings: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out ollamaEmbeddingResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ollama embeddings: decode: %w", err)
	}
	v := make([]float32, len(out.Embedding))
	for i, f := range out.Embedding {
		v[i] = float32(f)
	}
	if len(v) != o.dimensions {
		return nil, fmt.Errorf("ollama embeddings: got %d dimensions, expected %d", len(v), o.dimensions)
	}
	utils.NormalizeL2(v)
	return v, nil
}

// EmbedBatch calls Embed for each text; the endpoint takes one prompt per request.
func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := o.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (o *OllamaEmbedder) Dimensions() int { return o.dimensions }

// Close is a no-op.
func (o *OllamaEmbedder) Close() error { return nil }
