package notification

import (
	"context"
	"fmt"
	"time"
)

// defaultTimeout bounds a single provider network call when none is configured.
const defaultTimeout = 15 * time.Second

// SMTPConfig holds connection parameters for the email provider.
type SMTPConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Host       string        `yaml:"host" json:"host"`
	Port       int           `yaml:"port" json:"port"`
	Username   string        `yaml:"username" json:"username"`
	Password   string        `yaml:"password" json:"-"`
	FromAddr   string        `yaml:"from_address" json:"from_address"`
	Encryption string        `yaml:"encryption" json:"encryption"` // "none", "starttls", "ssl_tls"
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// SMSConfig holds credentials for a Twilio-compatible SMS gateway.
type SMSConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	AccountSID string        `yaml:"account_sid" json:"account_sid"`
	AuthToken  string        `yaml:"auth_token" json:"-"`
	FromNumber string        `yaml:"from_number" json:"from_number"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// PushConfig holds Firebase Cloud Messaging settings.
type PushConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	ProjectID       string        `yaml:"project_id" json:"project_id"`
	CredentialsFile string        `yaml:"credentials_file" json:"credentials_file"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint,omitempty"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
}

// WebhookConfig holds settings for outgoing webhook deliveries.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Secret  string            `yaml:"secret" json:"-"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
}

// ProvidersConfig is the providers file: one section per channel kind.
type ProvidersConfig struct {
	Email   SMTPConfig    `yaml:"email"`
	SMS     SMSConfig     `yaml:"sms"`
	Push    PushConfig    `yaml:"push"`
	Webhook WebhookConfig `yaml:"webhook"`
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

// NewRegistryFromConfig builds a Registry holding every provider, each
// enabled according to cfg. Providers that are disabled are still
// registered so they can be listed.
func NewRegistryFromConfig(ctx context.Context, cfg ProvidersConfig) (*Registry, error) {
	reg := NewRegistry()

	reg.Register(NewEmailProvider(cfg.Email), cfg.Email.Enabled)
	reg.Register(NewSMSProvider(cfg.SMS, nil), cfg.SMS.Enabled)
	reg.Register(NewWebhookProvider(cfg.Webhook, nil), cfg.Webhook.Enabled)

	if cfg.Push.Enabled {
		push, err := NewPushProvider(ctx, cfg.Push, nil)
		if err != nil {
			return nil, fmt.Errorf("configuring push provider: %w", err)
		}
		reg.Register(push, true)
	} else {
		reg.Register(newDisabledPushProvider(cfg.Push), false)
	}

	return reg, nil
}
