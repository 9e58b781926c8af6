// Package orchestrator runs a conversational turn end to end: classification, readiness
// gate, admission, retrieval, prompt assembly, backend dispatch and history update.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gat45/usine-a-gaz/internal/backend"
	"github.com/gat45/usine-a-gaz/internal/command"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/prompt"
	"github.com/gat45/usine-a-gaz/internal/runtimestate"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/internal/window"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Retriever finds passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q *models.RetrievalQuery) ([]*models.RetrievedChunk, error)
}

// Enricher produces supplementary material for a query from the companion backend.
type Enricher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Sizer reports the number of indexed vectors.
type Sizer interface {
	Size() int
}

// DocumentCounter reports the number of ingested documents.
type DocumentCounter interface {
	CountDocuments(ctx context.Context) (int64, error)
}

// Deps are the collaborators of an Orchestrator. Retriever, Companion, Enricher, Index
// and Documents are optional.
type Deps struct {
	Sessions  *session.Manager
	Window    *window.Manager
	Router    *prompt.Router
	Client    *backend.Client
	Primary   *runtimestate.Controller
	Companion *runtimestate.Controller
	Enricher  Enricher
	Retriever Retriever
	Index     Sizer
	Documents DocumentCounter
}

// Orchestrator serves turns for many sessions concurrently.
type Orchestrator struct {
	sessions   *session.Manager
	window     *window.Manager
	router     *prompt.Router
	dispatcher *command.Dispatcher
	client     *backend.Client
	primary    *runtimestate.Controller
	companion  *runtimestate.Controller
	enricher   Enricher
	retriever  Retriever
	index      Sizer
	documents  DocumentCounter

	// pending holds companion output per session key until that session's next turn.
	pending          *cache.Cache
	retryBackoff     time.Duration
	companionTimeout time.Duration
	logger           *zap.Logger

	requests  atomic.Int64
	failures  atomic.Int64
	startedAt time.Time
	bg        sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithRetryBackoff sets the wait before the single retry of a failed backend call.
func WithRetryBackoff(d time.Duration) Option { return func(o *Orchestrator) { o.retryBackoff = d } }

// WithCompanionTimeout bounds each enrichment call.
func WithCompanionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.companionTimeout = d }
}

// WithEnrichmentTTL sets how long an unconsumed enrichment is kept.
func WithEnrichmentTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.pending = cache.New(d, 2*d) }
}

// New creates an orchestrator.
func New(d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:         d.Sessions,
		window:           d.Window,
		router:           d.Router,
		client:           d.Client,
		primary:          d.Primary,
		companion:        d.Companion,
		enricher:         d.Enricher,
		retriever:        d.Retriever,
		index:            d.Index,
		documents:        d.Documents,
		pending:          cache.New(10*time.Minute, 20*time.Minute),
		retryBackoff:     500 * time.Millisecond,
		companionTimeout: 10 * time.Second,
		logger:           zap.NewNop(),
		startedAt:        time.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.dispatcher = command.NewDispatcher(d.Sessions, o.statusSummary)
	return o
}

// Reply is the outcome of one handled input.
type Reply struct {
	SessionKey   string                   `json:"session_key"`
	Stage        Stage                    `json:"-"`
	Content      string                   `json:"content"`
	Model        string                   `json:"model,omitempty"`
	FinishReason string                   `json:"finish_reason,omitempty"`
	Sources      []*models.RetrievedChunk `json:"sources,omitempty"`
	Command      *command.Result          `json:"command,omitempty"`
	Usage        Usage                    `json:"usage"`
}

// Usage counts estimated or backend-reported tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// turn carries one conversational turn through the state machine.
type turn struct {
	key      string
	text     string
	stage    Stage
	opts     session.Options
	messages []models.Message
	sources  []*models.RetrievedChunk
	release  func()
	logger   *zap.Logger
}

func (t *turn) advance(s Stage) {
	t.stage = s
	t.logger.Debug("turn stage", zap.String("session", t.key), zap.Stringer("stage", s))
}

// Handle processes one line of input for the session key. Commands are executed without
// touching the backend; conversation goes through the full turn pipeline.
func (o *Orchestrator) Handle(ctx context.Context, key, text string) (*Reply, error) {
	o.requests.Add(1)
	in, err := command.Classify(text)
	if err != nil {
		return nil, err
	}
	if in.IsCommand() {
		return o.runCommand(ctx, key, in)
	}

	t, err := o.begin(ctx, key, in.Text)
	if err != nil {
		return nil, err
	}
	defer t.release()

	comp, err := o.complete(ctx, t)
	if err != nil {
		t.advance(Failed)
		o.failures.Add(1)
		return nil, err
	}
	if err := o.sessions.AppendTurn(key, models.Turn{Role: models.RoleAssistant, Content: comp.Content}); err != nil {
		t.advance(Failed)
		return nil, err
	}
	t.advance(Completed)
	usage := Usage{PromptTokens: comp.PromptTokens, CompletionTokens: comp.CompletionTokens}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = promptTokens(t.messages)
		usage.CompletionTokens = window.EstimateTokens(comp.Content)
	}
	return &Reply{
		SessionKey:   key,
		Stage:        Completed,
		Content:      comp.Content,
		Model:        comp.Model,
		FinishReason: comp.FinishReason,
		Sources:      t.sources,
		Usage:        usage,
	}, nil
}

func (o *Orchestrator) runCommand(ctx context.Context, key string, in command.Input) (*Reply, error) {
	switch in.Kind {
	case command.Reset, command.ShowConfig, command.SetConfig:
		release, err := o.sessions.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	res, err := o.dispatcher.Dispatch(ctx, key, in)
	if err != nil {
		return nil, err
	}
	return &Reply{SessionKey: key, Stage: Completed, Content: res.Message, Command: res}, nil
}

// begin runs the turn up to prompt assembly. On success the session slot is held and
// the caller must call t.release.
func (o *Orchestrator) begin(ctx context.Context, key, text string) (*turn, error) {
	t := &turn{key: key, text: text, stage: Received, logger: o.logger}
	if err := o.primary.Gate(); err != nil {
		return nil, err
	}
	release, err := o.sessions.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	t.release = release
	t.advance(Gated)

	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	if reset, err := o.sessions.ResetIfOver(key, o.window.HardLimit()); err == nil && reset {
		o.logger.Info("session history cleared before turn", zap.String("session", key))
	}
	if err := o.sessions.AppendTurn(key, models.Turn{Role: models.RoleUser, Content: text}); err != nil {
		return nil, err
	}
	if t.opts, err = o.sessions.Options(key); err != nil {
		return nil, err
	}
	history, err := o.sessions.History(key)
	if err != nil {
		return nil, err
	}
	fitted := o.window.Window(history)
	current := fitted[len(fitted)-1]
	prior := fitted[:len(fitted)-1]

	if t.opts.RAG && o.retriever != nil {
		passages, err := o.retriever.Retrieve(ctx, &models.RetrievalQuery{Query: text, K: t.opts.TopK})
		if err != nil {
			o.logger.Warn("retrieval failed, answering without passages", zap.String("session", key), zap.Error(err))
		} else {
			t.sources = passages
		}
		t.advance(Retrieved)
	}

	enrichment := o.takeEnrichment(key)
	if t.opts.Hybrid {
		o.enrich(key, text)
	}

	t.messages = o.router.Assemble(prompt.Input{
		Passages:   t.sources,
		Enrichment: enrichment,
		History:    prior,
		User:       current.Content,
	})
	t.advance(Assembled)
	ok = true
	return t, nil
}

// complete dispatches the assembled prompt, retrying once after the backoff when the
// backend call fails and the caller is still waiting.
func (o *Orchestrator) complete(ctx context.Context, t *turn) (*backend.Completion, error) {
	t.advance(Dispatched)
	params := paramsFor(t.opts)
	comp, err := o.client.Complete(ctx, t.messages, params)
	if err == nil || !retryable(ctx, err) {
		return comp, err
	}
	o.logger.Warn("backend call failed, retrying", zap.String("session", t.key), zap.Error(err))
	if err := sleep(ctx, o.retryBackoff); err != nil {
		return nil, err
	}
	return o.client.Complete(ctx, t.messages, params)
}

func retryable(ctx context.Context, err error) bool {
	return errors.Is(err, backend.ErrBackendCallFailed) && ctx.Err() == nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func paramsFor(opts session.Options) backend.Params {
	return backend.Params{
		Temperature:      opts.Temperature,
		MaxTokens:        opts.MaxTokens,
		TopP:             opts.TopP,
		PresencePenalty:  opts.PresencePenalty,
		FrequencyPenalty: opts.FrequencyPenalty,
	}
}

func promptTokens(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		n += window.EstimateTokens(m.Content)
	}
	return n
}

func (o *Orchestrator) takeEnrichment(key string) string {
	v, ok := o.pending.Get(key)
	if !ok {
		return ""
	}
	o.pending.Delete(key)
	text, _ := v.(string)
	return text
}

// enrich asks the companion for material in the background. The result is stored for
// the session's next turn; failures are only logged.
func (o *Orchestrator) enrich(key, query string) {
	if o.enricher == nil || o.companion == nil || !o.companion.IsReady() {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.companionTimeout)
		defer cancel()
		text, err := o.enricher.Search(ctx, query)
		if err != nil {
			o.logger.Warn("companion enrichment failed", zap.String("session", key), zap.Error(err))
			return
		}
		if text == "" {
			return
		}
		o.pending.Set(key, text, cache.DefaultExpiration)
		o.logger.Debug("companion enrichment stored", zap.String("session", key), zap.Int("len", len(text)))
	}()
}

// Wait blocks until background enrichment calls have finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// PendingEnrichment reports whether the session has companion material waiting.
func (o *Orchestrator) PendingEnrichment(key string) bool {
	_, ok := o.pending.Get(key)
	return ok
}

// Model returns the primary backend model name.
func (o *Orchestrator) Model() string { return o.client.Model() }

// Status describes the whole system.
type Status struct {
	Primary        runtimestate.Snapshot  `json:"primary"`
	Companion      *runtimestate.Snapshot `json:"companion,omitempty"`
	Model          string                 `json:"model"`
	ActiveSessions int                    `json:"active_sessions"`
	Requests       int64                  `json:"requests"`
	Failures       int64                  `json:"failures"`
	IndexSize      int                    `json:"index_size"`
	Documents      int64                  `json:"documents"`
	Uptime         string                 `json:"uptime"`
}

// Status returns runtime snapshots and counters.
func (o *Orchestrator) Status(ctx context.Context) Status {
	s := Status{
		Primary:        o.primary.Snapshot(),
		Model:          o.client.Model(),
		ActiveSessions: o.sessions.Len(),
		Requests:       o.requests.Load(),
		Failures:       o.failures.Load(),
		Uptime:         time.Since(o.startedAt).Round(time.Second).String(),
	}
	if o.companion != nil {
		snap := o.companion.Snapshot()
		s.Companion = &snap
	}
	if o.index != nil {
		s.IndexSize = o.index.Size()
	}
	if o.documents != nil {
		n, err := o.documents.CountDocuments(ctx)
		if err != nil {
			o.logger.Warn("count documents failed", zap.Error(err))
		}
		s.Documents = n
	}
	return s
}

func (o *Orchestrator) statusSummary(ctx context.Context) (string, any) {
	s := o.Status(ctx)
	msg := fmt.Sprintf("primary: %s", describe(s.Primary))
	if s.Companion != nil {
		msg += fmt.Sprintf(", companion: %s", describe(*s.Companion))
	}
	msg += fmt.Sprintf(", sessions: %d, requests: %d, indexed chunks: %d", s.ActiveSessions, s.Requests, s.IndexSize)
	return msg, s
}

func describe(s runtimestate.Snapshot) string {
	if s.Stale && s.Status == runtimestate.Running {
		return "running (stale)"
	}
	return s.Status.String()
}
