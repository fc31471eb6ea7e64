package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.notificationSvc.Providers())
}

// handleTestProvider checks provider connectivity. A failed check is still a
// 200; the outcome is in the body.
func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	res, err := s.notificationSvc.TestProvider(r.Context(), typ)
	if err != nil {
		s.writeServiceError(w, err, "failed to test provider", "type", typ)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	// FCM message ids contain slashes, so the id is the whole remaining path.
	// chi matches on RawPath when the request carried escaped characters.
	messageID := chi.URLParam(r, "*")
	var err error
	if r.URL.RawPath != "" {
		messageID, err = url.PathUnescape(messageID)
	}
	if err != nil || messageID == "" {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	status, err := s.notificationSvc.DeliveryStatus(r.Context(), typ, messageID)
	if err != nil {
		s.writeServiceError(w, err, "failed to get delivery status", "type", typ, "message_id", messageID)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
