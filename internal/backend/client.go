// Package backend talks to the inference runtimes: the primary OpenAI-compatible chat
// backend and the optional companion used for enrichment.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/runtimestate"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrBackendCallFailed wraps every failed completion request.
var ErrBackendCallFailed = errors.New("backend call failed")

// Params are the generation parameters of one request.
type Params struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
}

// Completion is a finished, non-streamed answer.
type Completion struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Client is an OpenAI-compatible chat client for the primary backend.
type Client struct {
	api            *openai.Client
	model          string
	requestTimeout time.Duration
	httpClient     *http.Client
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a logger for request failures.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client for cfg.BaseURL. An empty API key is allowed for local runtimes.
func NewClient(cfg *config.BackendConfig, opts ...Option) *Client {
	c := &Client{model: cfg.Model, requestTimeout: cfg.RequestTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	if c.httpClient != nil {
		oc.HTTPClient = c.httpClient
	}
	c.api = openai.NewClientWithConfig(oc)
	return c
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

// Probe lists models. A non-success HTTP answer wraps runtimestate.ErrUnhealthy.
func (c *Client) Probe(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return classifyProbe(err)
	}
	return nil
}

// Models returns the model IDs the backend serves.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
	}
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return ids, nil
}

func classifyProbe(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", runtimestate.ErrUnhealthy, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: status %d", runtimestate.ErrUnhealthy, reqErr.HTTPStatusCode)
	}
	return err
}

func (c *Client) request(msgs []models.Message, p Params, stream bool) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         out,
		Temperature:      float32(p.Temperature),
		MaxTokens:        p.MaxTokens,
		TopP:             float32(p.TopP),
		PresencePenalty:  float32(p.PresencePenalty),
		FrequencyPenalty: float32(p.FrequencyPenalty),
		Stream:           stream,
	}
}

// Complete sends msgs and waits for the full answer, bounded by the request timeout.
func (c *Client) Complete(ctx context.Context, msgs []models.Message, p Params) (*Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, c.request(msgs, p, false))
	if err != nil {
		c.logger.Warn("chat completion failed", zap.String("model", c.model), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrBackendCallFailed)
	}
	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     string(resp.Choices[0].FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// Stream is an in-progress streamed answer.
type Stream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	// finished is set once a chunk carries a finish reason.
	finished bool
}

// Stream opens a streamed completion. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, msgs []models.Message, p Params) (*Stream, error) {
	ctx, cancel := c.withTimeout(ctx)
	s, err := c.api.CreateChatCompletionStream(ctx, c.request(msgs, p, true))
	if err != nil {
		cancel()
		c.logger.Warn("chat stream failed", zap.String("model", c.model), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
	}
	return &Stream{stream: s, cancel: cancel}, nil
}

// Recv returns the next text increment. It returns io.EOF when the backend finished
// normally; any other error wraps ErrBackendCallFailed. A stream that ends without a
// finish reason was cut off and fails with io.ErrUnexpectedEOF.
func (s *Stream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			if !s.finished {
				return "", fmt.Errorf("%w: %w", ErrBackendCallFailed, io.ErrUnexpectedEOF)
			}
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrBackendCallFailed, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if resp.Choices[0].FinishReason != "" {
			s.finished = true
		}
		if resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

// Close releases the connection.
func (s *Stream) Close() {
	s.stream.Close()
	s.cancel()
}
