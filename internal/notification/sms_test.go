package notification_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

func newSMSGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /2010-04-01/Accounts/AC123/Messages.json", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":20003,"message":"Authenticate"}`))
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001111", r.PostForm.Get("To"))
		assert.Equal(t, "+15559990000", r.PostForm.Get("From"))
		assert.Equal(t, "your code is 1234", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	})
	mux.HandleFunc("GET /2010-04-01/Accounts/AC123/Messages/SM42.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"delivered","date_updated":"Mon, 02 Mar 2026 10:00:00 +0000"}`))
	})
	mux.HandleFunc("GET /2010-04-01/Accounts/AC123.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"friendly_name":"test","status":"active"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSMSProvider(srv *httptest.Server, token string) *notification.SMSProvider {
	return notification.NewSMSProvider(notification.SMSConfig{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  token,
		FromNumber: "+15559990000",
	}, srv.Client())
}

func TestSMSProvider_Send(t *testing.T) {
	p := newSMSProvider(newSMSGateway(t), "token")

	res := p.Send(context.Background(), &storage.Notification{
		ID: "n1", Recipient: "+15550001111", Message: "your code is 1234", Type: storage.TypeSMS,
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "SM42", res.MessageID)
	assert.Equal(t, "twilio", res.Provider)
}

func TestSMSProvider_RejectsNonE164(t *testing.T) {
	p := newSMSProvider(newSMSGateway(t), "token")

	for _, r := range []string{"5550001111", "+0123", "+1 555 000", "phone"} {
		res := p.Send(context.Background(), &storage.Notification{ID: "n", Recipient: r, Message: "x"})
		assert.False(t, res.Success, "recipient %q", r)
		assert.Contains(t, res.Error, "E.164")
	}
}

func TestSMSProvider_AuthFailure(t *testing.T) {
	p := newSMSProvider(newSMSGateway(t), "wrong")

	res := p.Send(context.Background(), &storage.Notification{ID: "n", Recipient: "+15550001111", Message: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "401")
	assert.Contains(t, res.Error, "Authenticate")
}

func TestSMSProvider_StatusAndConnection(t *testing.T) {
	p := newSMSProvider(newSMSGateway(t), "token")

	status := p.GetDeliveryStatus(context.Background(), "SM42")
	assert.Equal(t, "delivered", status.Status)
	assert.Equal(t, 2026, status.Timestamp.Year())

	assert.Equal(t, "unknown", p.GetDeliveryStatus(context.Background(), "SM404").Status)

	conn := p.TestConnection(context.Background())
	assert.True(t, conn.Success, conn.Error)
	assert.Contains(t, conn.Message, "active")
}

func TestSMSProvider_MissingCredentials(t *testing.T) {
	p := notification.NewSMSProvider(notification.SMSConfig{}, nil)

	conn := p.TestConnection(context.Background())
	assert.False(t, conn.Success)
	assert.Contains(t, conn.Error, "credentials")
}
