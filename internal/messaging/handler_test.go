package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/conversation"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/observability/metrics"
)

type fakeEngine struct {
	reply    conversation.Reply
	err      error
	received []conversation.InboundMessage
}

func (f *fakeEngine) OnInboundMessage(_ context.Context, msg conversation.InboundMessage) (conversation.Reply, error) {
	f.received = append(f.received, msg)
	return f.reply, f.err
}

func signedRequest(t *testing.T, secret string, form url.Values) *http.Request {
	t.Helper()
	webhookURL := "http://example.com/webhooks/twilio/whatsapp"
	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "example.com"
	if secret != "" {
		req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(webhookURL, form), secret))
	}
	return req
}

func inboundForm(sid string) url.Values {
	form := url.Values{}
	form.Set("MessageSid", sid)
	form.Set("From", "whatsapp:+5511999990000")
	form.Set("Body", "1")
	return form
}

func TestWhatsAppWebhookRepliesWithTwiML(t *testing.T) {
	engine := &fakeEngine{reply: conversation.Reply{Body: conversation.InsuranceStatusMessage}}
	handler := NewHandler("secret", engine, nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "secret", inboundForm("SM1")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Message>")
	assert.Contains(t, rec.Body.String(), conversation.InsuranceStatusMessage)

	require.Len(t, engine.received, 1)
	assert.Equal(t, "whatsapp:+5511999990000", engine.received[0].From)
	assert.Equal(t, "SM1", engine.received[0].TwilioSID)
}

func TestWhatsAppWebhookRejectsBadSignature(t *testing.T) {
	engine := &fakeEngine{}
	handler := NewHandler("secret", engine, nil, nil, nil)

	req := signedRequest(t, "", inboundForm("SM1"))
	req.Header.Set("X-Twilio-Signature", "forged")

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, engine.received)
}

func TestWhatsAppWebhookSkipsValidationWithoutSecret(t *testing.T) {
	engine := &fakeEngine{reply: conversation.Reply{Body: "ok"}}
	handler := NewHandler("", engine, nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM1")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, engine.received, 1)
}

func TestWhatsAppWebhookRejectsMissingFrom(t *testing.T) {
	engine := &fakeEngine{}
	handler := NewHandler("", engine, nil, nil, nil)

	form := url.Values{}
	form.Set("MessageSid", "SM1")
	form.Set("Body", "oi")

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", form))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.received)
}

func TestWhatsAppWebhookAcksSilentlyOnEngineError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("db down")}
	handler := NewHandler("", engine, nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM1")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "<Message>")
}

func TestWhatsAppWebhookDropsDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	deduper := NewDeduper(client, nil)

	engine := &fakeEngine{reply: conversation.Reply{Body: "ok"}}
	handler := NewHandler("", engine, deduper, nil, nil)

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM42")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Message>")

	rec = httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM42")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<Message>")

	assert.Len(t, engine.received, 1)
}

func TestWhatsAppWebhookReplayAfterEngineFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	deduper := NewDeduper(client, nil)

	engine := &fakeEngine{err: errors.New("db down")}
	handler := NewHandler("", engine, deduper, nil, nil)

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM99")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<Message>")

	// The failed delivery must not occupy the dedup window; the operator's
	// replay carries the same MessageSid and has to reach the engine.
	engine.err = nil
	engine.reply = conversation.Reply{Body: "ok"}

	rec = httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM99")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Message>")

	assert.Len(t, engine.received, 2)
}

func TestWhatsAppWebhookObservesLatencyOnFailure(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := metrics.NewBridgeMetrics(reg)

	engine := &fakeEngine{err: errors.New("db down")}
	handler := NewHandler("", engine, nil, m, nil)

	rec := httptest.NewRecorder()
	handler.WhatsAppWebhook(rec, signedRequest(t, "", inboundForm("SM1")))

	count, err := testutil.GatherAndCount(reg, "bridge_webhooks_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeduperFailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	deduper := NewDeduper(client, nil)
	mr.Close()

	assert.False(t, deduper.Seen(context.Background(), "SM1"))
}

func TestNilDeduperNeverSeen(t *testing.T) {
	var deduper *Deduper
	assert.False(t, deduper.Seen(context.Background(), "SM1"))
}

func TestHealthCheck(t *testing.T) {
	handler := NewHandler("", &fakeEngine{}, nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
