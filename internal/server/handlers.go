package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/eventlog"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data": []map[string]string{
			{"id": s.orch.Model(), "object": "model", "owned_by": "usine"},
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"runtime": s.orch.Status(ctx),
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.respondErr(w, r, fmt.Errorf("status: count chunks: %w", err))
		return
	}
	resp["chunks"] = chunkCount

	configInfo := map[string]interface{}{
		"vector_index_type":    s.config.Storage.VectorIndexType,
		"vector_metric":        s.config.Storage.VectorMetric,
		"embedding_provider":   s.config.Embedding.Provider,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"chunk_size":           s.config.Ingest.ChunkSize,
		"chunk_overlap":        s.config.Ingest.ChunkOverlap,
		"top_k":                s.config.Retrieval.TopK,
		"keyword_enabled":      s.config.Retrieval.KeywordEnabled,
		"max_context_tokens":   s.config.Window.MaxContextTokens,
		"busy_policy":          s.config.Session.BusyPolicy,
	}
	resp["config"] = configInfo

	usage, err := storage.DiskUsage(map[string]string{
		"database":      s.config.Storage.DatabasePath,
		"keyword_index": s.config.Storage.BleveIndexPath,
		"vector_index":  s.config.Storage.VectorIndexPath,
	})
	if err == nil {
		resp["disk_usage"] = usage
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	if s.watch != nil {
		resp["watch"] = map[string]interface{}{
			"directories": s.watch.Directories(),
			"stats":       s.watch.Stats(),
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	models.DocumentInput
	Path string `json:"path,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	if req.Path != "" {
		info, err := os.Stat(req.Path)
		if err != nil {
			s.respondErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if info.IsDir() {
			n, err := s.indexer.IngestDirectory(ctx, req.Path)
			if err != nil && n == 0 {
				s.respondErr(w, r, err)
				return
			}
			resp := map[string]interface{}{"path": req.Path, "files": n}
			if err != nil {
				resp["errors"] = err.Error()
			}
			s.respondJSON(w, http.StatusCreated, resp)
			return
		}
		res, err := s.indexer.IngestFile(ctx, req.Path)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, res)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, "content or path is required")
		return
	}
	s.logger.Debug("ingest request", zap.String("id", req.ID), zap.String("title", req.Title))
	res, err := s.indexer.IngestDocument(ctx, &req.DocumentInput)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.RetrievalQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K))
	results, err := s.retriever.Retrieve(r.Context(), &query)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if results == nil {
		results = []*models.RetrievedChunk{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": query.Query, "results": results})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	docs, err := s.storage.ListDocuments(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]interface{}{
			"id":         d.ID,
			"title":      d.Title,
			"updated_at": d.UpdatedAt,
		})
	}
	total, err := s.storage.CountDocuments(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": out, "total": total})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := s.indexer.DocumentSummary(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	if list == nil {
		list = []session.Info{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": list, "count": len(list)})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, err := s.sessions.Get(key); err != nil {
		s.respondErr(w, r, err)
		return
	}
	reply, err := s.orch.Handle(r.Context(), key, ">>> reset")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"session": key, "message": reply.Content})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusNotImplemented, "event log not enabled")
		return
	}
	entries := s.events.Recent(queryInt(r, "limit", 100))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": nonNil(entries)})
}

func (s *Server) handleSearchLogs(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusNotImplemented, "event log not enabled")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	entries := s.events.Search(q)
	if limit := queryInt(r, "limit", 0); limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "entries": nonNil(entries)})
}

func nonNil(entries []eventlog.Entry) []eventlog.Entry {
	if entries == nil {
		return []eventlog.Entry{}
	}
	return entries
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondErr(w, r, err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch list back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
