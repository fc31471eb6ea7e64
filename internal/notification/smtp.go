package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// EmailProvider delivers notifications via SMTP using the go-mail library.
type EmailProvider struct {
	config SMTPConfig
}

// NewEmailProvider creates a new EmailProvider with the given configuration.
func NewEmailProvider(config SMTPConfig) *EmailProvider {
	config.Timeout = timeoutOrDefault(config.Timeout)
	return &EmailProvider{config: config}
}

// Type returns storage.TypeEmail.
func (p *EmailProvider) Type() storage.NotificationType { return storage.TypeEmail }

// Name returns the provider identifier.
func (p *EmailProvider) Name() string { return "smtp" }

// Send delivers n to the address in n.Recipient.
func (p *EmailProvider) Send(ctx context.Context, n *storage.Notification) storage.DeliveryResult {
	m, err := p.buildMessage(n)
	if err != nil {
		return failure(p.Name(), err)
	}

	c, err := p.client()
	if err != nil {
		return failure(p.Name(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return failure(p.Name(), fmt.Errorf("sending email: %w", err))
	}
	return success(p.Name(), m.GetMessageID())
}

func (p *EmailProvider) buildMessage(n *storage.Notification) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(p.config.FromAddr); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(n.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", n.Recipient, err)
	}

	high := n.Priority == storage.PriorityHigh
	subject := buildSubject(n.MetadataString("subject"), high)
	m.Subject(subject)
	m.SetMessageID()
	if high {
		m.SetImportance(mail.ImportanceHigh)
	}

	// Plain-text fallback for clients that don't render HTML.
	m.SetBodyString(mail.TypeTextPlain, n.Message)
	if html, err := buildEmailHTML(subject, n.Message, high); err == nil {
		m.AddAlternativeString(mail.TypeTextHTML, html)
	}
	return m, nil
}

func (p *EmailProvider) client() (*mail.Client, error) {
	if p.config.Host == "" {
		return nil, errors.New("smtp host is not configured")
	}

	opts := []mail.Option{
		mail.WithTimeout(p.config.Timeout),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(p.config.Encryption)),
	}
	if p.config.Port > 0 {
		opts = append(opts, mail.WithPort(p.config.Port))
	}
	if p.config.Encryption == "ssl_tls" {
		opts = append(opts, mail.WithSSL())
	}
	if p.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.config.Username),
			mail.WithPassword(p.config.Password),
		)
	}

	c, err := mail.NewClient(p.config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return c, nil
}

// TestConnection dials the SMTP server and closes the session.
func (p *EmailProvider) TestConnection(ctx context.Context) ConnectionResult {
	c, err := p.client()
	if err != nil {
		return connectionFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := c.DialWithContext(ctx); err != nil {
		return connectionFailed(fmt.Errorf("dialing %s: %w", p.config.Host, err))
	}
	if err := c.Close(); err != nil {
		return connectionFailed(fmt.Errorf("closing smtp session: %w", err))
	}
	return connectionOK(fmt.Sprintf("connected to %s", p.config.Host))
}

// GetDeliveryStatus reports "accepted": SMTP offers no delivery receipts
// beyond the relay accepting the message.
func (p *EmailProvider) GetDeliveryStatus(_ context.Context, messageID string) DeliveryStatus {
	return DeliveryStatus{MessageID: messageID, Status: "accepted", Timestamp: time.Now().UTC()}
}

// tlsPolicyFromEncryption converts the encryption string to a go-mail TLSPolicy.
func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls", "starttls":
		return mail.TLSMandatory
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
