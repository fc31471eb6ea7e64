package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/dispatchd/internal/eventbus"
	"github.com/shaharia-lab/dispatchd/internal/metrics"
	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// StatusQueued is reported for accepted submissions and retries.
const StatusQueued = "queued"

// NotificationRequest is a caller's request to deliver one notification.
type NotificationRequest struct {
	Recipient string         `json:"recipient"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority,omitempty"`
}

// SubmitResult acknowledges an accepted submission.
type SubmitResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// BulkResult is the per-item outcome of SubmitBulk, in input order.
type BulkResult struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RetryResult acknowledges a retry.
type RetryResult struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
}

// History is one page of notification records.
type History struct {
	Records []*storage.Notification `json:"records"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// Statistics combines persisted aggregates with live dispatcher state.
type Statistics struct {
	*storage.NotificationStats
	QueueDepth int  `json:"queue_depth"`
	Processing bool `json:"processing"`
}

// Dispatcher accepts ids for asynchronous delivery.
type Dispatcher interface {
	Enqueue(id string)
	QueueDepth() int
	Processing() bool
}

// ProviderRegistry resolves and lists channel providers.
type ProviderRegistry interface {
	Lookup(t storage.NotificationType) (notification.Provider, error)
	Providers() []notification.ProviderInfo
}

// NotificationService is the entry point for submitting and tracking
// notifications.
type NotificationService interface {
	// Submit validates, persists and enqueues one notification.
	Submit(ctx context.Context, req NotificationRequest) (*SubmitResult, error)
	// SubmitBulk submits each request independently; one failure never
	// aborts the rest.
	SubmitBulk(ctx context.Context, reqs []NotificationRequest) []BulkResult
	// Retry re-enqueues a failed notification.
	Retry(ctx context.Context, id string) (*RetryResult, error)
	// Get returns a single notification.
	Get(ctx context.Context, id string) (*storage.Notification, error)
	// History returns a filtered, paginated page of notifications.
	History(ctx context.Context, filter storage.NotificationFilter) (*History, error)
	// Statistics aggregates notifications created within window.
	Statistics(ctx context.Context, window time.Duration) (*Statistics, error)
	// Providers lists registered channel providers.
	Providers() []notification.ProviderInfo
	// TestProvider checks connectivity of the provider for a channel kind.
	TestProvider(ctx context.Context, typ string) (*notification.ConnectionResult, error)
	// DeliveryStatus asks a provider about a previously sent message.
	DeliveryStatus(ctx context.Context, typ, messageID string) (*notification.DeliveryStatus, error)
	// Purge deletes notifications created more than olderThan ago.
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

type notificationService struct {
	store      storage.NotificationStore
	dispatcher Dispatcher
	providers  ProviderRegistry
	events     EventPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewNotificationService constructs a NotificationService. events and m may be nil.
func NewNotificationService(
	store storage.NotificationStore,
	dispatcher Dispatcher,
	providers ProviderRegistry,
	events EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) NotificationService {
	return &notificationService{
		store:      store,
		dispatcher: dispatcher,
		providers:  providers,
		events:     events,
		metrics:    m,
		logger:     logger,
	}
}

func (s *notificationService) Submit(ctx context.Context, req NotificationRequest) (*SubmitResult, error) {
	n, err := buildNotification(req)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, n); err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			return nil, &ConflictError{Resource: "notification", ID: n.ID}
		}
		return nil, fmt.Errorf("persisting notification: %w", err)
	}

	s.dispatcher.Enqueue(n.ID)
	s.metrics.NotificationSubmitted(string(n.Type))
	s.publish(eventbus.EventNotificationQueued, map[string]string{
		"notification_id": n.ID,
		"type":            string(n.Type),
		"priority":        string(n.Priority),
	})
	s.logger.Debug("notification queued", "notification_id", n.ID, "type", n.Type)

	return &SubmitResult{ID: n.ID, Status: StatusQueued}, nil
}

// buildNotification validates req and returns a new pending record.
func buildNotification(req NotificationRequest) (*storage.Notification, error) {
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		return nil, &ValidationError{Field: "recipient", Message: "recipient is required"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, &ValidationError{Field: "message", Message: "message is required"}
	}
	if req.Type == "" {
		return nil, &ValidationError{Field: "type", Message: "type is required"}
	}
	typ := storage.NotificationType(strings.ToLower(req.Type))
	if !typ.Valid() {
		return nil, &ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown type %q (must be one of %s)", req.Type, typeList()),
		}
	}

	prio := storage.PriorityNormal
	if req.Priority != "" {
		prio = storage.Priority(strings.ToLower(req.Priority))
		if !prio.Valid() {
			return nil, &ValidationError{
				Field:   "priority",
				Message: fmt.Sprintf("unknown priority %q (must be low, normal or high)", req.Priority),
			}
		}
	}

	now := time.Now().UTC()
	return &storage.Notification{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Message:   req.Message,
		Metadata:  req.Metadata,
		Type:      typ,
		Priority:  prio,
		Status:    storage.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func typeList() string {
	names := make([]string, len(storage.NotificationTypes))
	for i, t := range storage.NotificationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func (s *notificationService) SubmitBulk(ctx context.Context, reqs []NotificationRequest) []BulkResult {
	results := make([]BulkResult, len(reqs))
	for i, req := range reqs {
		res, err := s.Submit(ctx, req)
		if err != nil {
			results[i] = BulkResult{Index: i, Status: "rejected", Error: err.Error()}
			continue
		}
		results[i] = BulkResult{Index: i, ID: res.ID, Status: res.Status}
	}
	return results
}

func (s *notificationService) Retry(ctx context.Context, id string) (*RetryResult, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up notification %q: %w", id, err)
	}
	if existing == nil {
		return nil, &NotFoundError{Resource: "notification", ID: id}
	}
	if existing.Status != storage.StatusFailed {
		return nil, &InvalidStateError{
			Resource: "notification", ID: id,
			State: string(existing.Status), Expected: string(storage.StatusFailed),
		}
	}

	failed := storage.StatusFailed
	pending := storage.StatusPending
	updated, err := s.store.Update(ctx, id, storage.NotificationPatch{
		ExpectStatus:          &failed,
		Status:                &pending,
		IncrementRetry:        true,
		ClearError:            true,
		ClearFailedAt:         true,
		ClearProviderResponse: true,
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, &NotFoundError{Resource: "notification", ID: id}
	case errors.Is(err, storage.ErrStatusConflict):
		// Another retry won the race.
		return nil, &InvalidStateError{
			Resource: "notification", ID: id,
			State: "no longer failed", Expected: string(storage.StatusFailed),
		}
	case err != nil:
		return nil, fmt.Errorf("resetting notification %q: %w", id, err)
	}

	s.dispatcher.Enqueue(id)
	s.publish(eventbus.EventNotificationRetried, map[string]string{
		"notification_id": id,
		"retry_count":     strconv.Itoa(updated.RetryCount),
	})
	s.logger.Info("notification retry queued", "notification_id", id, "retry_count", updated.RetryCount)

	return &RetryResult{ID: id, Status: StatusQueued, RetryCount: updated.RetryCount}, nil
}

func (s *notificationService) Get(ctx context.Context, id string) (*storage.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting notification %q: %w", id, err)
	}
	if n == nil {
		return nil, &NotFoundError{Resource: "notification", ID: id}
	}
	return n, nil
}

func (s *notificationService) History(ctx context.Context, filter storage.NotificationFilter) (*History, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", filter.Type)}
	}
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	if filter.CreatedFrom != nil && filter.CreatedTo != nil && filter.CreatedFrom.After(*filter.CreatedTo) {
		return nil, &ValidationError{Field: "from", Message: "from must not be after to"}
	}
	filter.Normalize()

	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return &History{Records: records, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func validStatus(st storage.NotificationStatus) bool {
	switch st {
	case storage.StatusPending, storage.StatusProcessing, storage.StatusSent, storage.StatusFailed:
		return true
	}
	return false
}

func (s *notificationService) Statistics(ctx context.Context, window time.Duration) (*Statistics, error) {
	stats, err := s.store.Stats(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("aggregating statistics: %w", err)
	}
	return &Statistics{
		NotificationStats: stats,
		QueueDepth:        s.dispatcher.QueueDepth(),
		Processing:        s.dispatcher.Processing(),
	}, nil
}

func (s *notificationService) Providers() []notification.ProviderInfo {
	return s.providers.Providers()
}

func (s *notificationService) lookupProvider(typ string) (notification.Provider, error) {
	t := storage.NotificationType(strings.ToLower(typ))
	if !t.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", typ)}
	}
	p, err := s.providers.Lookup(t)
	if err != nil {
		var npe *notification.NoProviderError
		if errors.As(err, &npe) {
			return nil, &NotFoundError{Resource: "provider", ID: typ}
		}
		return nil, err
	}
	return p, nil
}

func (s *notificationService) TestProvider(ctx context.Context, typ string) (*notification.ConnectionResult, error) {
	p, err := s.lookupProvider(typ)
	if err != nil {
		return nil, err
	}
	res := p.TestConnection(ctx)
	s.logger.Info("provider connection tested", "type", typ, "provider", p.Name(), "success", res.Success)
	return &res, nil
}

func (s *notificationService) DeliveryStatus(
	ctx context.Context, typ, messageID string,
) (*notification.DeliveryStatus, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, &ValidationError{Field: "message_id", Message: "message id is required"}
	}
	p, err := s.lookupProvider(typ)
	if err != nil {
		return nil, err
	}
	status := p.GetDeliveryStatus(ctx, messageID)
	return &status, nil
}

func (s *notificationService) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, &ValidationError{Field: "older_than", Message: "must be a positive duration"}
	}
	removed, err := s.store.PurgeOlderThan(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purging notifications: %w", err)
	}

	s.metrics.Purged(removed)
	s.publish(eventbus.EventNotificationsPurged, map[string]string{
		"older_than": olderThan.String(),
		"removed":    strconv.FormatInt(removed, 10),
	})
	s.logger.Info("notifications purged", "older_than", olderThan, "removed", removed)
	return removed, nil
}

func (s *notificationService) publish(eventType string, payload map[string]string) {
	if s.events != nil {
		s.events.Publish(eventType, payload)
	}
}
