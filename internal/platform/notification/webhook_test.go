package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fisioclinic/clinic/internal/platform/db"
)

type gatewayRecorder struct {
	mu      sync.Mutex
	status  int
	bodies  [][]byte
	headers []http.Header
}

func (g *gatewayRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	g.mu.Lock()
	g.bodies = append(g.bodies, body)
	g.headers = append(g.headers, r.Header.Clone())
	status := g.status
	g.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte("queued"))
}

func (g *gatewayRecorder) requests() ([][]byte, []http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]byte(nil), g.bodies...), append([]http.Header(nil), g.headers...)
}

func TestWebhookSender_SignsAndPosts(t *testing.T) {
	gw := &gatewayRecorder{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	s, err := NewWebhookSender(srv.URL, "s3cret", ChannelWhatsApp, srv.Client())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC) }

	ctx := db.WithTenant(context.Background(), "centro")
	require.NoError(t, s.Send(ctx, "+5511987654321", "", "Olá Ana"))

	bodies, headers := gw.requests()
	require.Len(t, bodies, 1)
	h := headers[0]
	assert.Equal(t, "whatsapp", h.Get(HeaderChannel))
	assert.Equal(t, "centro", h.Get(HeaderTenant))
	assert.Equal(t, "2025-03-12T10:00:00Z", h.Get(HeaderTimestamp))
	assert.True(t, VerifySignature(bodies[0], "s3cret", h.Get(HeaderSignature)))
	assert.False(t, VerifySignature(bodies[0], "other", h.Get(HeaderSignature)))

	var msg GatewayMessage
	require.NoError(t, json.Unmarshal(bodies[0], &msg))
	assert.Equal(t, "+5511987654321", msg.To)
	assert.Equal(t, "Olá Ana", msg.Body)
	assert.Equal(t, "centro", msg.Tenant)
}

func TestWebhookSender_Non2xxIsError(t *testing.T) {
	gw := &gatewayRecorder{status: http.StatusBadGateway}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	s, err := NewWebhookSender(srv.URL, "", ChannelSMS, srv.Client())
	require.NoError(t, err)

	err = s.Send(context.Background(), "+5511987654321", "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	_, headers := gw.requests()
	assert.Empty(t, headers[0].Get(HeaderSignature))
}

func TestNewWebhookSender_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://gateway", "not a url", "https://"} {
		_, err := NewWebhookSender(u, "", ChannelEmail, nil)
		assert.Error(t, err, u)
	}
}

func TestGatewayManager_FailedDeliveryStaysForRetry(t *testing.T) {
	gw := &gatewayRecorder{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	mgr, err := NewGatewayManager(srv.URL, "k", zerolog.Nop())
	require.NoError(t, err)
	ctx := db.WithTenant(context.Background(), "centro")

	n, err := mgr.SendTemplate(ctx, ChannelEmail, TemplateNPSSurvey, "ana@example.com",
		map[string]string{"patient_name": "Ana", "link": "https://clinic.example.com/public/nps/x"})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, n.Status)

	gw.mu.Lock()
	gw.status = http.StatusOK
	gw.mu.Unlock()

	assert.Equal(t, 1, mgr.RetryFailed(ctx))
	got, err := mgr.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Status)
	assert.Equal(t, 2, got.Attempts)
}
