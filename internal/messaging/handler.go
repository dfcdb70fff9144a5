package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/conversation"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/observability/metrics"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

var twilioTracer = otel.Tracer("bridge.internal.messaging.twilio")

// InboundEngine runs the conversation state machine for one user message.
type InboundEngine interface {
	OnInboundMessage(ctx context.Context, msg conversation.InboundMessage) (conversation.Reply, error)
}

// Handler receives end-user WhatsApp messages from Twilio and answers with
// gateway reply markup. Twilio always gets valid TwiML and HTTP 200 once the
// request is authenticated and parseable; engine failures degrade to a
// silent ack.
type Handler struct {
	webhookSecret string
	engine        InboundEngine
	deduper       *Deduper
	metrics       *metrics.BridgeMetrics
	logger        *logging.Logger
}

// NewHandler creates the inbound webhook handler.
func NewHandler(webhookSecret string, engine InboundEngine, deduper *Deduper, m *metrics.BridgeMetrics, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("messaging: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		webhookSecret: webhookSecret,
		engine:        engine,
		deduper:       deduper,
		metrics:       m,
		logger:        logger,
	}
}

// WhatsAppWebhook handles POST /webhooks/twilio/whatsapp requests.
func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.whatsapp")
	defer span.End()
	defer func() {
		h.metrics.ObserveWebhookLatency("inbound", time.Since(start).Seconds())
	}()

	if h.webhookSecret != "" {
		if !ValidateTwilioSignature(r, h.webhookSecret, buildAbsoluteURL(r)) {
			h.logger.Warn("invalid twilio signature")
			h.metrics.ObserveInboundWebhook("unauthorized")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			span.RecordError(errors.New("invalid twilio signature"))
			return
		}
	}

	msg, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		h.metrics.ObserveInboundWebhook("bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	span.SetAttributes(
		attribute.String("bridge.twilio.message_sid", msg.TwilioSID),
		attribute.String("bridge.twilio.from", msg.From),
	)

	if msg.From == "" {
		err := errors.New("missing From field")
		h.logger.Error("invalid twilio payload", "error", err)
		h.metrics.ObserveInboundWebhook("bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}

	if h.deduper.Seen(ctx, msg.TwilioSID) {
		h.logger.Info("duplicate webhook delivery dropped", "message_sid", msg.TwilioSID)
		h.metrics.ObserveInboundWebhook("duplicate")
		WriteTwiML(w, "")
		return
	}

	h.logger.Info("webhook received", "from", msg.From, "message_sid", msg.TwilioSID)

	reply, err := h.engine.OnInboundMessage(ctx, *msg)
	if err != nil {
		// The user-facing channel must always get valid reply markup; the
		// message is lost and the operator replays it from the logs. Clear
		// the dedup key so the replay is not dropped as a duplicate.
		h.logger.Error("failed to process inbound message", "error", err, "from", msg.From)
		h.metrics.ObserveInboundWebhook("engine_error")
		h.deduper.Forget(ctx, msg.TwilioSID)
		span.RecordError(err)
		WriteTwiML(w, "")
		return
	}

	h.metrics.ObserveInboundWebhook("ok")
	WriteTwiML(w, reply.Body)
}

// HealthCheck returns a simple health check response.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
