package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"

	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// connectionTestTopic is the FCM topic used for validate-only sends.
const connectionTestTopic = "dispatchd-connection-test"

// PushProvider delivers notifications through Firebase Cloud Messaging HTTP v1.
type PushProvider struct {
	config PushConfig
	svc    *fcm.Service
}

// NewPushProvider creates a PushProvider. When client is nil, credentials are
// read from config.CredentialsFile or the application default credentials.
func NewPushProvider(ctx context.Context, config PushConfig, client *http.Client) (*PushProvider, error) {
	config.Timeout = timeoutOrDefault(config.Timeout)

	if client == nil {
		creds, err := loadCredentials(ctx, config.CredentialsFile)
		if err != nil {
			return nil, err
		}
		if config.ProjectID == "" {
			config.ProjectID = creds.ProjectID
		}
		client = &http.Client{
			Timeout: config.Timeout,
			Transport: &oauth2.Transport{
				Source: creds.TokenSource,
				Base:   otelhttp.NewTransport(http.DefaultTransport),
			},
		}
	}
	if config.ProjectID == "" {
		return nil, errors.New("push provider requires a firebase project id")
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating fcm service: %w", err)
	}
	return &PushProvider{config: config, svc: svc}, nil
}

// newDisabledPushProvider returns a provider that reports itself unconfigured.
// It exists so a disabled push channel is still listed.
func newDisabledPushProvider(config PushConfig) *PushProvider {
	return &PushProvider{config: config}
}

func loadCredentials(ctx context.Context, file string) (*google.Credentials, error) {
	if file == "" {
		creds, err := google.FindDefaultCredentials(ctx, fcm.FirebaseMessagingScope)
		if err != nil {
			return nil, fmt.Errorf("finding default google credentials: %w", err)
		}
		return creds, nil
	}

	data, err := os.ReadFile(file) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, fcm.FirebaseMessagingScope) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return creds, nil
}

// Type returns storage.TypePush.
func (p *PushProvider) Type() storage.NotificationType { return storage.TypePush }

// Name returns the provider identifier.
func (p *PushProvider) Name() string { return "fcm" }

// Send delivers n to the FCM registration token in n.Recipient.
func (p *PushProvider) Send(ctx context.Context, n *storage.Notification) storage.DeliveryResult {
	if p.svc == nil {
		return failure(p.Name(), errors.New("push provider is not configured"))
	}
	token := strings.TrimSpace(n.Recipient)
	if token == "" || strings.ContainsAny(token, " \t\n") {
		return failure(p.Name(), fmt.Errorf("recipient %q is not a valid device token", n.Recipient))
	}

	msg := buildFCMMessage(n)
	msg.Token = token

	resp, err := p.send(ctx, &fcm.SendMessageRequest{Message: msg})
	if err != nil {
		return failure(p.Name(), err)
	}
	return success(p.Name(), resp.Name)
}

func (p *PushProvider) send(ctx context.Context, req *fcm.SendMessageRequest) (*fcm.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.svc.Projects.Messages.Send("projects/"+p.config.ProjectID, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sending fcm message: %w", err)
	}
	return resp, nil
}

// buildFCMMessage maps a notification onto an FCM message without a target.
func buildFCMMessage(n *storage.Notification) *fcm.Message {
	msg := &fcm.Message{
		Notification: &fcm.Notification{
			Title: n.MetadataString("title"),
			Body:  n.Message,
		},
		Android: &fcm.AndroidConfig{Priority: "NORMAL"},
		Apns:    &fcm.ApnsConfig{Headers: map[string]string{"apns-priority": "5"}},
	}
	if n.Priority == storage.PriorityHigh {
		msg.Android.Priority = "HIGH"
		msg.Apns.Headers["apns-priority"] = "10"
	}

	if data, ok := n.Metadata["data"].(map[string]any); ok && len(data) > 0 {
		msg.Data = make(map[string]string, len(data))
		for k, v := range data {
			if s, ok := v.(string); ok {
				msg.Data[k] = s
				continue
			}
			msg.Data[k] = fmt.Sprint(v)
		}
	}
	return msg
}

// TestConnection performs a validate-only send to a topic, which exercises
// credentials and project access without delivering anything.
func (p *PushProvider) TestConnection(ctx context.Context) ConnectionResult {
	if p.svc == nil {
		return connectionFailed(errors.New("push provider is not configured"))
	}
	_, err := p.send(ctx, &fcm.SendMessageRequest{
		ValidateOnly: true,
		Message: &fcm.Message{
			Topic:        connectionTestTopic,
			Notification: &fcm.Notification{Title: "connection test"},
		},
	})
	if err != nil {
		return connectionFailed(err)
	}
	return connectionOK(fmt.Sprintf("fcm project %s reachable", p.config.ProjectID))
}

// GetDeliveryStatus reports "sent": FCM has no per-message status lookup.
func (p *PushProvider) GetDeliveryStatus(_ context.Context, messageID string) DeliveryStatus {
	return DeliveryStatus{MessageID: messageID, Status: "sent", Timestamp: time.Now().UTC()}
}
