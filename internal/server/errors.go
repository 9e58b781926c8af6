package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gat45/usine-a-gaz/internal/backend"
	"github.com/gat45/usine-a-gaz/internal/command"
	"github.com/gat45/usine-a-gaz/internal/extract"
	"github.com/gat45/usine-a-gaz/internal/indexer"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/runtimestate"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/vector"
	"go.uber.org/zap"
)

// errBadRequest marks request validation failures raised by the handlers themselves.
var errBadRequest = errors.New("bad request")

// statusFor maps an error from the engine to an HTTP status code.
func statusFor(err error) int {
	var ingestErr *indexer.IngestionError
	switch {
	case errors.Is(err, runtimestate.ErrBackendNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrInvalidConfigKey),
		errors.Is(err, command.ErrCommandUsage),
		errors.Is(err, session.ErrUnknownOption),
		errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, vector.ErrDimensionMismatch), errors.As(err, &ingestErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backend.ErrBackendCallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with its mapped status. Server errors are logged.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(s.retryAfterSeconds()))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) retryAfterSeconds() int {
	secs := int(s.config.Backend.PollInterval.Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
