package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/dispatchd/internal/service"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

const (
	maxBulkItems       = 1000
	defaultStatsWindow = 24 * time.Hour
	windowAllTime      = "all"
)

type bulkRequest struct {
	Notifications []service.NotificationRequest `json:"notifications"`
}

type bulkResponse struct {
	Results  []service.BulkResult `json:"results"`
	Accepted int                  `json:"accepted"`
	Rejected int                  `json:"rejected"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.NotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.notificationSvc.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err, "failed to submit notification")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Notifications) == 0 {
		writeError(w, http.StatusBadRequest, "notifications must not be empty")
		return
	}
	if len(req.Notifications) > maxBulkItems {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d notifications per request", maxBulkItems))
		return
	}

	results := s.notificationSvc.SubmitBulk(r.Context(), req.Notifications)
	resp := bulkResponse{Results: results}
	for _, res := range results {
		if res.Error == "" {
			resp.Accepted++
		} else {
			resp.Rejected++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.notificationSvc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "failed to get notification", "notification_id", id)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.notificationSvc.Retry(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "failed to retry notification", "notification_id", id)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handleHistory lists notifications. Accepts ?type, ?status, ?recipient,
// ?from and ?to (RFC 3339), ?limit and ?offset.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.notificationSvc.History(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseFilter(r *http.Request) (storage.NotificationFilter, error) {
	q := r.URL.Query()
	filter := storage.NotificationFilter{
		Type:      storage.NotificationType(q.Get("type")),
		Status:    storage.NotificationStatus(q.Get("status")),
		Recipient: q.Get("recipient"),
	}

	var err error
	if filter.CreatedFrom, err = parseTimeParam(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = parseTimeParam(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func parseIntParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative integer", name)
	}
	return n, nil
}

// handleStatistics aggregates over ?window (Go duration, default 24h, or
// "all" for every record).
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	switch v := r.URL.Query().Get("window"); v {
	case "":
	case windowAllTime:
		window = 0
	default:
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window: must be a positive duration such as 24h, or \"all\"")
			return
		}
		window = d
	}

	stats, err := s.notificationSvc.Statistics(r.Context(), window)
	if err != nil {
		s.writeServiceError(w, err, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handlePurge deletes notifications created more than ?older_than ago.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("older_than")
	if v == "" {
		writeError(w, http.StatusBadRequest, "older_than is required")
		return
	}
	age, err := time.ParseDuration(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid older_than: must be a duration such as 720h")
		return
	}

	removed, err := s.notificationSvc.Purge(r.Context(), age)
	if err != nil {
		s.writeServiceError(w, err, "failed to purge notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
