package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gat45/usine-a-gaz/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "text-embedding-3-small"
	retryBaseDelay     = 200 * time.Millisecond
	retryMaxDelay      = 5 * time.Second
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	maxRetries int
	timeout    time.Duration
}

// NewOpenAIEmbedder creates an embedder for the OpenAI API or any compatible server (BaseURL).
func NewOpenAIEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("openai embedder: dimensions must be positive")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: opts.Dimensions,
		maxRetries: retries,
		timeout:    opts.Timeout,
	}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, retrying rate limits and server errors
// with exponential backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}
		resp, err := e.create(ctx, req)
		if err == nil {
			out := make([][]float32, len(texts))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(out) {
					return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
				}
				v := make([]float32, len(d.Embedding))
				copy(v, d.Embedding)
				utils.NormalizeL2(v)
				out[d.Index] = v
			}
			if err := checkDimensions("openai", e.dimensions, out); err != nil {
				return nil, err
			}
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("openai embeddings: %w", lastErr)
}

func (e *OpenAIEmbedder) create(ctx context.Context, req openai.EmbeddingRequestStrings) (openai.EmbeddingResponse, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.client.CreateEmbeddings(ctx, req)
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error { return nil }

func backoff(attempt int) time.Duration {
	d := retryBaseDelay << attempt
	if d > retryMaxDelay || d <= 0 {
		return retryMaxDelay
	}
	return d
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
