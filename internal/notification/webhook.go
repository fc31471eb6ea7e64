package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/dispatchd/internal/build"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// Webhook signature headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
	HeaderPriority  = "X-Webhook-Priority"
)

// maxTrackedDeliveries bounds the in-memory delivery status history.
const maxTrackedDeliveries = 1000

// WebhookProvider delivers notifications as signed JSON POSTs to the
// recipient URL.
type WebhookProvider struct {
	config WebhookConfig
	client *http.Client

	mu       sync.Mutex
	statuses map[string]DeliveryStatus
	order    []string
}

// NewWebhookProvider creates a WebhookProvider. A nil client gets an
// instrumented client bounded by the configured timeout.
func NewWebhookProvider(config WebhookConfig, client *http.Client) *WebhookProvider {
	config.Timeout = timeoutOrDefault(config.Timeout)
	if client == nil {
		client = newHTTPClient(config.Timeout)
	}
	return &WebhookProvider{
		config:   config,
		client:   client,
		statuses: make(map[string]DeliveryStatus),
	}
}

// Type returns storage.TypeWebhook.
func (p *WebhookProvider) Type() storage.NotificationType { return storage.TypeWebhook }

// Name returns the provider identifier.
func (p *WebhookProvider) Name() string { return "webhook" }

// WebhookPayload is the JSON body posted to webhook recipients.
type WebhookPayload struct {
	ID        string                   `json:"id"`
	Type      storage.NotificationType `json:"type"`
	Message   string                   `json:"message"`
	Metadata  map[string]any           `json:"metadata,omitempty"`
	Priority  storage.Priority         `json:"priority"`
	CreatedAt time.Time                `json:"created_at"`
	SentAt    time.Time                `json:"sent_at"`
}

// Send posts n to the URL in n.Recipient.
func (p *WebhookProvider) Send(ctx context.Context, n *storage.Notification) storage.DeliveryResult {
	target, err := parseWebhookURL(n.Recipient)
	if err != nil {
		return failure(p.Name(), err)
	}

	body, err := json.Marshal(WebhookPayload{
		ID:        n.ID,
		Type:      n.Type,
		Message:   n.Message,
		Metadata:  n.Metadata,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return failure(p.Name(), fmt.Errorf("encoding webhook payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return failure(p.Name(), fmt.Errorf("building webhook request: %w", err))
	}

	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}
	if hdrs, ok := n.Metadata["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	// Reserved headers are set last so custom headers cannot override them.
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", build.UserAgent())
	req.Header.Set(HeaderID, deliveryID)
	req.Header.Set(HeaderPriority, string(n.Priority))
	req.Header.Del(HeaderTimestamp)
	req.Header.Del(HeaderSignature)
	if p.config.Secret != "" {
		ts := time.Now().Unix()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, SignWebhookPayload(p.config.Secret, ts, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.track(deliveryID, "failed")
		return failure(p.Name(), fmt.Errorf("posting webhook: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.track(deliveryID, "failed")
		return failure(p.Name(), fmt.Errorf("webhook endpoint returned %d", resp.StatusCode))
	}

	p.track(deliveryID, "delivered")
	return success(p.Name(), deliveryID)
}

// TestConnection validates the provider configuration. Webhook targets are
// per-notification, so there is no single endpoint to probe.
func (p *WebhookProvider) TestConnection(_ context.Context) ConnectionResult {
	if p.config.Secret == "" {
		return connectionOK("webhook provider ready (unsigned deliveries)")
	}
	return connectionOK("webhook provider ready (HMAC-SHA256 signed deliveries)")
}

// GetDeliveryStatus reports the outcome recorded for a recent delivery.
func (p *WebhookProvider) GetDeliveryStatus(_ context.Context, messageID string) DeliveryStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.statuses[messageID]; ok {
		return s
	}
	return DeliveryStatus{MessageID: messageID, Status: "unknown", Timestamp: time.Now().UTC()}
}

func (p *WebhookProvider) track(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.statuses[id] = DeliveryStatus{MessageID: id, Status: status, Timestamp: time.Now().UTC()}
	p.order = append(p.order, id)
	if len(p.order) > maxTrackedDeliveries {
		delete(p.statuses, p.order[0])
		p.order = p.order[1:]
	}
}

// SignWebhookPayload returns the hex HMAC-SHA256 of "<timestamp>.<payload>".
func SignWebhookPayload(secret string, timestamp int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(h, "%d.", timestamp)
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyWebhookSignature checks signature against secret in constant time.
func VerifyWebhookSignature(secret string, timestamp int64, payload []byte, signature string) bool {
	expected := SignWebhookPayload(secret, timestamp, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func parseWebhookURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid webhook url %q: must be an absolute http(s) url", raw)
	}
	return u.String(), nil
}
