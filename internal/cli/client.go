package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/session"
)

// Client calls a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// StatusError is a non-success response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, want int) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return readStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// Search runs a retrieval query.
func (c *Client) Search(ctx context.Context, q *models.RetrievalQuery) ([]*models.RetrievedChunk, error) {
	var out struct {
		Results []*models.RetrievedChunk `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/rag/search", q, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Status returns the server status document.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/v1/system/status", nil, &out, http.StatusOK)
	return out, err
}

// Sessions lists active sessions.
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	var out struct {
		Sessions []session.Info `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &out, http.StatusOK)
	return out.Sessions, err
}

// ResetSession clears a session's history.
func (c *Client) ResetSession(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(key)+"/reset", nil, nil, http.StatusOK)
}

// Command runs a control command for the session and returns its message.
func (c *Client) Command(ctx context.Context, key, text string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/system/command", map[string]string{"session": key, "command": text}, &out, http.StatusOK)
	return out.Message, err
}

// Chat sends one user message for the session and calls onDelta with every streamed
// increment. It returns the full reply.
func (c *Client) Chat(ctx context.Context, key, text string, onDelta func(string)) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"user":     key,
		"stream":   true,
		"messages": []models.Message{{Role: models.RoleUser, Content: text}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readStatusError(resp)
	}

	var full strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return full.String(), nil
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return full.String(), fmt.Errorf("decode event: %w", err)
		}
		if chunk.Error != nil {
			return full.String(), &StatusError{Code: chunk.Error.Code, Message: chunk.Error.Message}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			full.WriteString(chunk.Choices[0].Delta.Content)
			if onDelta != nil {
				onDelta(chunk.Choices[0].Delta.Content)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), fmt.Errorf("stream ended before completion")
}

// Ingest submits a server-side file or directory path.
func (c *Client) Ingest(ctx context.Context, path string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodPost, "/v1/rag/ingest", map[string]string{"path": path}, &out, http.StatusCreated)
	return out, err
}

// WatchList returns the watched directories.
func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/watch/directories", nil, &out, http.StatusOK)
	return out.Directories, err
}

// WatchAdd starts watching path and ingests the files already in it.
func (c *Client) WatchAdd(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/v1/watch/directories", map[string]interface{}{"path": path, "sync": true}, nil, http.StatusCreated)
}

// WatchRemove stops watching path.
func (c *Client) WatchRemove(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/watch/directories?path="+url.QueryEscape(path), nil, nil, http.StatusOK)
}
