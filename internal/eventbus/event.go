package eventbus

import "time"

// Notification lifecycle event types.
const (
	EventNotificationQueued  = "notification.queued"
	EventNotificationSent    = "notification.sent"
	EventNotificationFailed  = "notification.failed"
	EventNotificationRetried = "notification.retried"
	EventNotificationsPurged = "notification.purged"
)

// Event represents a lifecycle event published to the bus.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Listener is a function that handles an event.
type Listener func(Event)
