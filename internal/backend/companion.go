package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/runtimestate"
)

// maxCompanionBody caps how much of a companion answer is read.
const maxCompanionBody = 1 << 20

// Companion is the client for the secondary backend that enriches prompts with search results.
type Companion struct {
	baseURL string
	http    *http.Client
}

// NewCompanion creates a companion client. Every request is bounded by cfg.Timeout.
func NewCompanion(cfg *config.CompanionConfig) *Companion {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Companion{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Probe calls GET /health. A non-2xx answer wraps runtimestate.ErrUnhealthy.
func (c *Companion) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxCompanionBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", runtimestate.ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

type searchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	Depth string `json:"depth,omitempty"`
}

type searchResponse struct {
	Results json.RawMessage `json:"results"`
}

// Search asks the companion for material related to query and returns it as text.
// Structured results are returned as compact JSON.
func (c *Companion) Search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(searchRequest{Query: query, Mode: "search", Depth: "deep"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("companion search: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCompanionBody))
	if err != nil {
		return "", fmt.Errorf("companion search: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("companion search: status %d", resp.StatusCode)
	}
	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("companion search: decode: %w", err)
	}
	return resultsText(out.Results), nil
}

func resultsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
