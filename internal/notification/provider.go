// Package notification contains the delivery channel providers (email, SMS,
// push and webhook) and the registry the dispatcher resolves them from.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// ConnectionResult is the outcome of a provider connectivity check.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeliveryStatus is the provider-side view of a previously sent message.
type DeliveryStatus struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider is the interface for notification delivery backends.
//
// Send must not return failures any other way than through the result:
// transport and validation errors become DeliveryResult{Success: false}.
type Provider interface {
	// Type returns the channel kind this provider serves.
	Type() storage.NotificationType
	// Name returns the provider identifier (e.g. "smtp").
	Name() string
	// Send delivers n and reports the outcome.
	Send(ctx context.Context, n *storage.Notification) storage.DeliveryResult
	// TestConnection checks that the backend is reachable with the configured credentials.
	TestConnection(ctx context.Context) ConnectionResult
	// GetDeliveryStatus looks up a message previously returned by Send.
	GetDeliveryStatus(ctx context.Context, messageID string) DeliveryStatus
}

// SafeSend calls p.Send, converting a panic into a failed result and filling
// in fields a provider left empty.
func SafeSend(ctx context.Context, p Provider, n *storage.Notification) (res storage.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(p.Name(), fmt.Errorf("provider panic: %v", r))
		}
	}()

	res = p.Send(ctx, n)
	if res.Provider == "" {
		res.Provider = p.Name()
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	if !res.Success && res.Error == "" {
		res.Error = "provider reported failure without detail"
	}
	return res
}

func success(provider, messageID string) storage.DeliveryResult {
	return storage.DeliveryResult{
		Success:   true,
		MessageID: messageID,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
}

func failure(provider string, err error) storage.DeliveryResult {
	return storage.DeliveryResult{
		Success:   false,
		Error:     err.Error(),
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
}

func connectionOK(msg string) ConnectionResult {
	return ConnectionResult{Success: true, Message: msg}
}

func connectionFailed(err error) ConnectionResult {
	return ConnectionResult{Success: false, Error: err.Error()}
}
