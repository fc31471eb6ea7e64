// Package api exposes the notification service over a JSON REST interface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/dispatchd/internal/service"
)

const (
	errInvalidJSONBody = "invalid JSON body"
	maxBodyBytes       = 1 << 20
)

// Server holds all dependencies for the REST API handlers.
type Server struct {
	notificationSvc service.NotificationService
	logger          *slog.Logger
}

// New creates a new API Server backed by the provided service.
func New(notificationSvc service.NotificationService, logger *slog.Logger) *Server {
	return &Server{
		notificationSvc: notificationSvc,
		logger:          logger,
	}
}

// Mount registers all API routes under the given router.
func (s *Server) Mount(r chi.Router) {
	// Notifications
	r.Post("/notifications", s.handleSubmit)
	r.Post("/notifications/bulk", s.handleSubmitBulk)
	r.Get("/notifications", s.handleHistory)
	r.Delete("/notifications", s.handlePurge)
	r.Get("/notifications/{id}", s.handleGetNotification)
	r.Post("/notifications/{id}/retry", s.handleRetry)
	r.Get("/stats", s.handleStatistics)

	// Providers
	r.Get("/providers", s.handleListProviders)
	r.Post("/providers/{type}/test", s.handleTestProvider)
	r.Get("/providers/{type}/messages/*", s.handleDeliveryStatus)

	r.Get("/version", s.handleVersion)
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSONBody)
		return false
	}
	return true
}

// writeServiceError maps typed service errors to HTTP status codes. Anything
// unrecognised is logged and reported as a 500 with fallback as the message.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, fallback string, attrs ...any) {
	var (
		ve  *service.ValidationError
		nfe *service.NotFoundError
		ise *service.InvalidStateError
		ce  *service.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &nfe):
		writeError(w, http.StatusNotFound, nfe.Error())
	case errors.As(err, &ise):
		writeError(w, http.StatusConflict, ise.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Error())
	default:
		s.logger.Error(fallback, append(attrs, "error", err)...)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
