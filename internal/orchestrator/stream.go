package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/gat45/usine-a-gaz/internal/backend"
	"github.com/gat45/usine-a-gaz/internal/command"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/window"
	"go.uber.org/zap"
)

// TurnStream delivers a reply incrementally. The assistant turn is appended to the
// session only when the backend finishes normally; a stream closed early or ended by
// an error leaves the history with the user turn alone.
type TurnStream struct {
	key     string
	model   string
	sources []*models.RetrievedChunk

	upstream *backend.Stream
	// fixed is the whole reply of a command; it is sent once and never committed.
	fixed  *string
	commit  func(content string) error
	finish  func(failed bool)
	release func()

	buf       strings.Builder
	done      bool
	committed bool
	closeOnce sync.Once
}

// SessionKey returns the key the stream belongs to.
func (s *TurnStream) SessionKey() string { return s.key }

// Model returns the backend model, empty for command replies.
func (s *TurnStream) Model() string { return s.model }

// Sources returns the passages the prompt was built from.
func (s *TurnStream) Sources() []*models.RetrievedChunk { return s.sources }

// Committed reports whether the reply was recorded in the session history.
func (s *TurnStream) Committed() bool { return s.committed }

// Recv returns the next increment, or io.EOF once the reply is complete.
func (s *TurnStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	if s.fixed != nil {
		s.done = true
		return *s.fixed, nil
	}
	piece, err := s.upstream.Recv()
	if errors.Is(err, io.EOF) {
		s.done = true
		if err := s.commit(s.buf.String()); err != nil {
			s.finish(true)
			return "", err
		}
		s.committed = true
		s.finish(false)
		return "", io.EOF
	}
	if err != nil {
		s.done = true
		s.finish(true)
		return "", err
	}
	s.buf.WriteString(piece)
	return piece, nil
}

// Close releases the session and the backend connection. Text received before a
// normal completion is discarded.
func (s *TurnStream) Close() {
	s.closeOnce.Do(func() {
		if s.upstream != nil {
			s.upstream.Close()
		}
		if !s.done {
			s.done = true
			if s.finish != nil {
				s.finish(true)
			}
		}
		if s.release != nil {
			s.release()
		}
	})
}

// HandleStream is Handle with incremental delivery. The caller must Close the stream.
// Commands produce a single increment.
func (o *Orchestrator) HandleStream(ctx context.Context, key, text string) (*TurnStream, error) {
	o.requests.Add(1)
	in, err := command.Classify(text)
	if err != nil {
		return nil, err
	}
	if in.IsCommand() {
		reply, err := o.runCommand(ctx, key, in)
		if err != nil {
			return nil, err
		}
		return &TurnStream{key: key, fixed: &reply.Content}, nil
	}

	t, err := o.begin(ctx, key, in.Text)
	if err != nil {
		return nil, err
	}
	up, err := o.openStream(ctx, t)
	if err != nil {
		t.advance(Failed)
		o.failures.Add(1)
		t.release()
		return nil, err
	}
	return &TurnStream{
		key:      key,
		model:    o.client.Model(),
		sources:  t.sources,
		upstream: up,
		release:  t.release,
		commit: func(content string) error {
			return o.sessions.AppendTurn(key, models.Turn{
				Role:    models.RoleAssistant,
				Content: content,
				Tokens:  window.EstimateTokens(content),
			})
		},
		finish: func(failed bool) {
			if failed {
				t.advance(Failed)
				o.failures.Add(1)
				o.logger.Info("streamed turn not recorded", zap.String("session", key))
				return
			}
			t.advance(Completed)
		},
	}, nil
}

// openStream opens the backend stream with the same single retry as complete. Once
// increments have started flowing a failure is final.
func (o *Orchestrator) openStream(ctx context.Context, t *turn) (*backend.Stream, error) {
	t.advance(Dispatched)
	params := paramsFor(t.opts)
	up, err := o.client.Stream(ctx, t.messages, params)
	if err == nil || !retryable(ctx, err) {
		return up, err
	}
	o.logger.Warn("backend stream failed to open, retrying", zap.String("session", t.key), zap.Error(err))
	if err := sleep(ctx, o.retryBackoff); err != nil {
		return nil, err
	}
	return o.client.Stream(ctx, t.messages, params)
}
