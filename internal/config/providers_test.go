package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadProvidersConfig(t *testing.T) {
	t.Setenv("TEST_SMTP_PASSWORD", "hunter2")
	t.Setenv("TEST_WEBHOOK_SECRET", "whsec")

	path := writeFile(t, `
email:
  enabled: true
  host: smtp.example.com
  port: 587
  username: mailer
  password: ${ENV:TEST_SMTP_PASSWORD}
  from_address: noreply@example.com
  encryption: starttls
  timeout: 20s
sms:
  enabled: false
  account_sid: AC123
webhook:
  enabled: true
  secret: ${ENV:TEST_WEBHOOK_SECRET}
  headers:
    X-Source: dispatchd
`)

	cfg, err := LoadProvidersConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Email.Enabled)
	assert.Equal(t, "smtp.example.com", cfg.Email.Host)
	assert.Equal(t, 587, cfg.Email.Port)
	assert.Equal(t, "hunter2", cfg.Email.Password)
	assert.Equal(t, 20*time.Second, cfg.Email.Timeout)

	assert.False(t, cfg.SMS.Enabled)
	assert.Equal(t, "AC123", cfg.SMS.AccountSID)

	assert.True(t, cfg.Webhook.Enabled)
	assert.Equal(t, "whsec", cfg.Webhook.Secret)
	assert.Equal(t, map[string]string{"X-Source": "dispatchd"}, cfg.Webhook.Headers)

	assert.False(t, cfg.Push.Enabled)
}

func TestLoadProvidersConfig_MissingFile(t *testing.T) {
	cfg, err := LoadProvidersConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.Email.Enabled)
	assert.False(t, cfg.Webhook.Enabled)
}

func TestLoadProvidersConfig_EmptyFile(t *testing.T) {
	cfg, err := LoadProvidersConfig(writeFile(t, ""))
	require.NoError(t, err)
	assert.False(t, cfg.SMS.Enabled)
}

func TestLoadProvidersConfig_UnsetEnvVar(t *testing.T) {
	_, err := LoadProvidersConfig(writeFile(t, "sms:\n  auth_token: ${ENV:DISPATCHD_TEST_UNSET_VAR}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCHD_TEST_UNSET_VAR")
}

func TestLoadProvidersConfig_UnknownField(t *testing.T) {
	_, err := LoadProvidersConfig(writeFile(t, "email:\n  hostname: typo\n"))
	assert.Error(t, err)
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("A_VAR", "alpha")

	got, err := interpolateEnv("x=${ENV:A_VAR}, y=${ENV:A_VAR}")
	require.NoError(t, err)
	assert.Equal(t, "x=alpha, y=alpha", got)

	got, err = interpolateEnv("no refs")
	require.NoError(t, err)
	assert.Equal(t, "no refs", got)
}

func TestInterpolateEnv_ValuesAreNotRescanned(t *testing.T) {
	t.Setenv("SELF_REF", "${ENV:SELF_REF}")
	t.Setenv("NESTED_REF", "${ENV:A_MISSING_VAR}")

	done := make(chan struct{})
	var (
		got string
		err error
	)
	go func() {
		defer close(done)
		got, err = interpolateEnv("a=${ENV:SELF_REF} b=${ENV:NESTED_REF} c")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("interpolateEnv did not return")
	}
	require.NoError(t, err)
	assert.Equal(t, "a=${ENV:SELF_REF} b=${ENV:A_MISSING_VAR} c", got)
}
