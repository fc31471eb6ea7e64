package storage

import (
	"context"
	"errors"
	"time"
)

// Store errors. Implementations wrap these so callers can use errors.Is.
var (
	ErrNotFound       = errors.New("notification not found")
	ErrDuplicateID    = errors.New("notification id already exists")
	ErrStatusConflict = errors.New("notification status precondition failed")
)

// NotificationType selects the delivery channel of a notification.
type NotificationType string

// Channel kinds. The set is closed; unknown values are rejected at submission.
const (
	TypeEmail   NotificationType = "email"
	TypeSMS     NotificationType = "sms"
	TypePush    NotificationType = "push"
	TypeWebhook NotificationType = "webhook"
)

// NotificationTypes lists every known channel kind.
var NotificationTypes = []NotificationType{TypeEmail, TypeSMS, TypePush, TypeWebhook}

// Valid reports whether t is a known channel kind.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Priority is an advisory hint consumed by providers for formatting.
// The dispatch queue never reorders by priority.
type Priority string

// Priority levels.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// NotificationStatus is the lifecycle state of a notification.
type NotificationStatus string

// Lifecycle states: pending -> processing -> {sent, failed}, plus failed -> pending on retry.
const (
	StatusPending    NotificationStatus = "pending"
	StatusProcessing NotificationStatus = "processing"
	StatusSent       NotificationStatus = "sent"
	StatusFailed     NotificationStatus = "failed"
)

// Terminal reports whether s is sent or failed.
func (s NotificationStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// DeliveryResult is the outcome reported by a provider for one send attempt.
type DeliveryResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification is the persisted notification record.
type Notification struct {
	ID               string             `json:"id"`
	Recipient        string             `json:"recipient"`
	Message          string             `json:"message"`
	Metadata         map[string]any     `json:"metadata,omitempty"`
	Type             NotificationType   `json:"type"`
	Priority         Priority           `json:"priority"`
	Status           NotificationStatus `json:"status"`
	RetryCount       int                `json:"retry_count"`
	ProviderResponse *DeliveryResult    `json:"provider_response,omitempty"`
	Error            string             `json:"error,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	SentAt           *time.Time         `json:"sent_at,omitempty"`
	FailedAt         *time.Time         `json:"failed_at,omitempty"`
}

// MetadataString returns metadata[key] when it holds a non-empty string.
func (n *Notification) MetadataString(key string) string {
	if n.Metadata == nil {
		return ""
	}
	if v, ok := n.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// NotificationPatch is a merge-patch applied by NotificationStore.Update.
// Nil fields are left unchanged. UpdatedAt is always refreshed.
type NotificationPatch struct {
	// ExpectStatus, when set, must match the stored status or the update is
	// rejected with ErrStatusConflict and nothing is written.
	ExpectStatus *NotificationStatus

	Status           *NotificationStatus
	ProviderResponse *DeliveryResult
	Error            *string
	SentAt           *time.Time
	FailedAt         *time.Time
	IncrementRetry   bool

	ClearProviderResponse bool
	ClearError            bool
	ClearSentAt           bool
	ClearFailedAt         bool
}

// NotificationFilter narrows List results. Zero values mean "no filter".
type NotificationFilter struct {
	Type        NotificationType   `json:"type,omitempty"`
	Status      NotificationStatus `json:"status,omitempty"`
	Recipient   string             `json:"recipient,omitempty"` // case-insensitive substring
	CreatedFrom *time.Time         `json:"created_from,omitempty"`
	CreatedTo   *time.Time         `json:"created_to,omitempty"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// List pagination bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps Limit and Offset into their accepted ranges.
func (f *NotificationFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// NotificationStats aggregates records created within a trailing window.
type NotificationStats struct {
	WindowStart          time.Time                  `json:"window_start"`
	Total                int                        `json:"total"`
	ByStatus             map[NotificationStatus]int `json:"by_status"`
	ByType               map[NotificationType]int   `json:"by_type"`
	SuccessRate          float64                    `json:"success_rate"`
	FailureRate          float64                    `json:"failure_rate"`
	AvgTimeToSentSeconds float64                    `json:"avg_time_to_sent_seconds"`
}

// NotificationStore defines the interface for persisting notification records.
type NotificationStore interface {
	// Create inserts a new record. Returns ErrDuplicateID if the id exists.
	Create(ctx context.Context, n *Notification) error
	// Update applies patch atomically and returns the updated record.
	// Returns ErrNotFound if the id is unknown.
	Update(ctx context.Context, id string, patch NotificationPatch) (*Notification, error)
	// Get returns the record, or nil if it does not exist.
	Get(ctx context.Context, id string) (*Notification, error)
	// List returns matching records newest first and the total match count.
	List(ctx context.Context, filter NotificationFilter) ([]*Notification, int, error)
	// ListByStatus returns records in status last updated before the given
	// time, oldest first.
	ListByStatus(ctx context.Context, status NotificationStatus, updatedBefore time.Time) ([]*Notification, error)
	// Stats aggregates records created within the trailing window.
	Stats(ctx context.Context, window time.Duration) (*NotificationStats, error)
	// PurgeOlderThan deletes records created before now-age and returns the count.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
