package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gat45/usine-a-gaz/internal/command"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sessionHeader carries the session key back to clients that did not send one.
const sessionHeader = "X-Session-Key"

type chatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	User     string           `json:"user"`
}

// lastUserMessage returns the newest user message. Earlier messages are ignored: the
// session keeps its own history.
func (req *chatCompletionRequest) lastUserMessage() string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

type chatMessage struct {
	Role    models.Role `json:"role,omitempty"`
	Content string      `json:"content"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []chatChoice             `json:"choices"`
	Usage   *chatUsage               `json:"usage,omitempty"`
	Sources []*models.RetrievedChunk `json:"sources,omitempty"`
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func strPtr(s string) *string { return &s }

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := req.lastUserMessage()
	if strings.TrimSpace(text) == "" {
		s.respondError(w, http.StatusBadRequest, "a user message is required")
		return
	}
	key := req.User
	if key == "" {
		key = uuid.NewString()
	}
	w.Header().Set(sessionHeader, key)
	s.logger.Debug("chat request", zap.String("session", key), zap.Bool("stream", req.Stream))

	if req.Stream {
		s.streamChat(w, r, key, text)
		return
	}
	reply, err := s.orch.Handle(r.Context(), key, text)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	model := reply.Model
	if model == "" {
		model = s.orch.Model()
	}
	finish := reply.FinishReason
	if finish == "" {
		finish = "stop"
	}
	s.respondJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      &chatMessage{Role: models.RoleAssistant, Content: reply.Content},
			FinishReason: strPtr(finish),
		}},
		Usage: &chatUsage{
			PromptTokens:     reply.Usage.PromptTokens,
			CompletionTokens: reply.Usage.CompletionTokens,
			TotalTokens:      reply.Usage.PromptTokens + reply.Usage.CompletionTokens,
		},
		Sources: reply.Sources,
	})
}

// streamChat relays a turn as server-sent events. Errors before the first event get a
// regular status code; later ones are sent as an error event.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, key, text string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	stream, err := s.orch.HandleStream(r.Context(), key, text)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := completionID()
	created := time.Now().Unix()
	model := stream.Model()
	if model == "" {
		model = s.orch.Model()
	}
	send := func(choice chatChoice) {
		chunk := chatCompletionResponse{ID: id, Object: "chat.completion.chunk", Created: created, Model: model, Choices: []chatChoice{choice}}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	send(chatChoice{Delta: &chatMessage{Role: models.RoleAssistant}})
	for {
		piece, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("chat stream failed", zap.String("session", key), zap.Error(err))
			b, _ := json.Marshal(map[string]any{"error": map[string]any{"message": err.Error(), "code": statusFor(err)}})
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			return
		}
		send(chatChoice{Delta: &chatMessage{Content: piece}})
	}
	send(chatChoice{Delta: &chatMessage{}, FinishReason: strPtr("stop")})
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type commandRequest struct {
	Session string `json:"session"`
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Session == "" || strings.TrimSpace(req.Command) == "" {
		s.respondError(w, http.StatusBadRequest, "session and command are required")
		return
	}
	text := strings.TrimSpace(req.Command)
	if !strings.HasPrefix(text, command.Prefix) {
		text = command.Prefix + " " + text
	}
	reply, err := s.orch.Handle(r.Context(), req.Session, text)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reply.Command)
}
