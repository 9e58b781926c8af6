package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/models"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rag/search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var q models.RetrievalQuery
		_ = json.NewDecoder(r.Body).Decode(&q)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"query":%q,"results":[{"chunk_id":"chk_1","document_id":"doc_a","content":"x","score":0.5}]}`, q.Query)
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL+"/").Search(context.Background(), &models.RetrievalQuery{Query: "boiler", K: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ChunkID != "chk_1" {
		t.Errorf("results = %+v", res)
	}
}

func TestClient_errorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"primary is stopped: backend not ready"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Status(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want StatusError, got %v", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Message != "primary is stopped: backend not ready" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestClient_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			User   string `json:"user"`
			Stream bool   `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.User != "alice" || !body.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var deltas []string
	full, err := NewClient(srv.URL).Chat(context.Background(), "alice", "hi", func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatal(err)
	}
	if full != "Hello" || len(deltas) != 2 {
		t.Errorf("full=%q deltas=%v", full, deltas)
	}
}

func TestClient_ChatStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"error\":{\"message\":\"backend call failed\",\"code\":502}}\n\n")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Chat(context.Background(), "alice", "hi", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Errorf("want 502 StatusError, got %v", err)
	}
}
