package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shaharia-lab/dispatchd/internal/build"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

const defaultSMSBaseURL = "https://api.twilio.com"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// SMSProvider delivers notifications through a Twilio-compatible REST gateway.
type SMSProvider struct {
	config SMSConfig
	client *http.Client
}

// NewSMSProvider creates an SMSProvider. A nil client gets an instrumented
// client bounded by the configured timeout.
func NewSMSProvider(config SMSConfig, client *http.Client) *SMSProvider {
	config.Timeout = timeoutOrDefault(config.Timeout)
	if config.BaseURL == "" {
		config.BaseURL = defaultSMSBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if client == nil {
		client = newHTTPClient(config.Timeout)
	}
	return &SMSProvider{config: config, client: client}
}

// Type returns storage.TypeSMS.
func (p *SMSProvider) Type() storage.NotificationType { return storage.TypeSMS }

// Name returns the provider identifier.
func (p *SMSProvider) Name() string { return "twilio" }

type smsMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	DateUpdated  string `json:"date_updated"`
	ErrorMessage string `json:"error_message"`
}

type smsErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts n.Message to the E.164 number in n.Recipient.
func (p *SMSProvider) Send(ctx context.Context, n *storage.Notification) storage.DeliveryResult {
	if !e164Pattern.MatchString(n.Recipient) {
		return failure(p.Name(), fmt.Errorf("recipient %q is not an E.164 phone number", n.Recipient))
	}

	form := url.Values{}
	form.Set("To", n.Recipient)
	form.Set("From", p.config.FromNumber)
	form.Set("Body", n.Message)

	var resp smsMessageResponse
	endpoint := p.accountURL() + "/Messages.json"
	if err := p.do(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), &resp); err != nil {
		return failure(p.Name(), err)
	}
	if resp.SID == "" {
		return failure(p.Name(), errors.New("gateway response carried no message sid"))
	}
	return success(p.Name(), resp.SID)
}

// TestConnection fetches the account resource to validate credentials.
func (p *SMSProvider) TestConnection(ctx context.Context) ConnectionResult {
	var account struct {
		FriendlyName string `json:"friendly_name"`
		Status       string `json:"status"`
	}
	if err := p.do(ctx, http.MethodGet, p.accountURL()+".json", nil, &account); err != nil {
		return connectionFailed(err)
	}
	return connectionOK(fmt.Sprintf("account %s is %s", p.config.AccountSID, account.Status))
}

// GetDeliveryStatus fetches the message resource and reports its status.
func (p *SMSProvider) GetDeliveryStatus(ctx context.Context, messageID string) DeliveryStatus {
	status := DeliveryStatus{MessageID: messageID, Timestamp: time.Now().UTC()}

	var resp smsMessageResponse
	endpoint := p.accountURL() + "/Messages/" + url.PathEscape(messageID) + ".json"
	if err := p.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		status.Status = "unknown"
		return status
	}
	status.Status = resp.Status
	if t, err := time.Parse(time.RFC1123Z, resp.DateUpdated); err == nil {
		status.Timestamp = t.UTC()
	}
	return status
}

func (p *SMSProvider) accountURL() string {
	return p.config.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.config.AccountSID)
}

func (p *SMSProvider) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	if p.config.AccountSID == "" || p.config.AuthToken == "" {
		return errors.New("sms gateway credentials are not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building sms request: %w", err)
	}
	req.SetBasicAuth(p.config.AccountSID, p.config.AuthToken)
	req.Header.Set("User-Agent", build.UserAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling sms gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading sms gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr smsErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("sms gateway returned %d: %s (code %d)", resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding sms gateway response: %w", err)
	}
	return nil
}

// newHTTPClient returns a client whose outgoing requests are traced.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
