// Package server exposes the orchestrator over HTTP: OpenAI-compatible chat
// completions plus RAG, session, status, log and watch routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/eventlog"
	"github.com/gat45/usine-a-gaz/internal/indexer"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/orchestrator"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Retriever runs retrieval queries for the search route.
type Retriever interface {
	Retrieve(ctx context.Context, q *models.RetrievalQuery) ([]*models.RetrievedChunk, error)
}

// WatchService manages watched directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
	Stats() watcher.Stats
}

// Server is the HTTP front of the engine.
type Server struct {
	orch      *orchestrator.Orchestrator
	indexer   *indexer.Indexer
	retriever Retriever
	storage   storage.Storage
	sessions  *session.Manager
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	events     *eventlog.Ring
	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithEventLog enables the log routes backed by ring.
func WithEventLog(ring *eventlog.Ring) Option { return func(s *Server) { s.events = ring } }

// WithWatch enables the watch routes. Directory changes are saved to configPath when it
// is not empty.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	orch *orchestrator.Orchestrator,
	idx *indexer.Indexer,
	retriever Retriever,
	store storage.Storage,
	sessions *session.Manager,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		orch:      orch,
		indexer:   idx,
		retriever: retriever,
		storage:   store,
		sessions:  sessions,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/chat/completions", s.handleChatCompletions)

		r.Group(func(r chi.Router) {
			if d := s.config.Server.RequestTimeout; d > 0 {
				r.Use(middleware.Timeout(d))
			}
			r.Get("/system/status", s.handleStatus)
			r.Post("/system/command", s.handleCommand)

			r.Post("/rag/ingest", s.handleIngest)
			r.Post("/rag/search", s.handleSearch)
			r.Get("/rag/documents", s.handleListDocuments)
			r.Get("/rag/documents/{id}", s.handleGetDocument)
			r.Delete("/rag/documents/{id}", s.handleDeleteDocument)

			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions/{key}/reset", s.handleResetSession)

			r.Get("/logs/recent", s.handleRecentLogs)
			r.Get("/logs/search", s.handleSearchLogs)

			r.Get("/watch/directories", s.handleWatchDirectoriesList)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

// requestLogger logs each request with zap at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start starts the HTTP server and blocks until it stops. Stop may be called before
// Start; Start then returns immediately.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
