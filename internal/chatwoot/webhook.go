package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/conversation"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/observability/metrics"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

var webhookTracer = otel.Tracer("bridge.internal.chatwoot.webhook")

// Acknowledgment status tokens returned to Chatwoot.
const (
	StatusEventIgnored         = "event_ignored"
	StatusPrivateNoteIgnored   = "private_note_ignored"
	StatusEmptyMessageIgnored  = "empty_message_ignored"
	StatusConversationNotFound = "conversation_not_found"
	StatusTwilioError          = "twilio_error"
	StatusSuccess              = "success"
)

// notePrefix marks agent messages that must never reach the end user.
const notePrefix = "note:"

// ConversationLookup resolves agent replies to local conversations and logs them.
type ConversationLookup interface {
	GetByChatwootConversationID(ctx context.Context, chatwootConversationID int64) (*conversation.Conversation, error)
	InsertMessage(ctx context.Context, rec conversation.MessageRecord) (int64, error)
}

// MessageSender delivers agent replies to the user's WhatsApp number.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to, body, mediaURL string) error
}

// MediaRelay re-hosts Chatwoot-held attachments somewhere Twilio can fetch.
type MediaRelay interface {
	Fetch(ctx context.Context, url, apiToken string) ([]byte, string, error)
	Host(ctx context.Context, keyPrefix, filename string, data []byte, contentType string) (string, error)
}

// WebhookEvent is the Chatwoot webhook payload, reduced to what we read.
type WebhookEvent struct {
	Event        string `json:"event"`
	MessageType  string `json:"message_type"`
	Content      string `json:"content"`
	Private      bool   `json:"private"`
	Conversation struct {
		ID int64 `json:"id"`
	} `json:"conversation"`
	Attachments []struct {
		DataURL     string `json:"data_url"`
		ContentType string `json:"file_type"`
	} `json:"attachments"`
}

// WebhookHandler receives Chatwoot agent activity and forwards outgoing
// messages to WhatsApp.
type WebhookHandler struct {
	store    ConversationLookup
	sender   MessageSender
	media    MediaRelay
	apiToken string
	metrics  *metrics.BridgeMetrics
	logger   *logging.Logger
}

// NewWebhookHandler creates the agent-reply webhook handler. media may be nil
// when attachment relay is not configured; attachment messages then fail with
// twilio_error so Chatwoot shows the delivery failure.
func NewWebhookHandler(store ConversationLookup, sender MessageSender, media MediaRelay, apiToken string, m *metrics.BridgeMetrics, logger *logging.Logger) *WebhookHandler {
	if store == nil {
		panic("chatwoot: conversation lookup cannot be nil")
	}
	if sender == nil {
		panic("chatwoot: message sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		store:    store,
		sender:   sender,
		media:    media,
		apiToken: apiToken,
		metrics:  m,
		logger:   logger,
	}
}

// Handle handles POST /webhooks/chatwoot.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "chatwoot.webhook")
	defer span.End()
	defer func() {
		h.metrics.ObserveWebhookLatency("outbound", time.Since(start).Seconds())
	}()

	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.Error("failed to decode chatwoot webhook", "error", err)
		h.respond(w, http.StatusBadRequest, StatusEventIgnored)
		return
	}
	span.SetAttributes(
		attribute.String("bridge.chatwoot.event", event.Event),
		attribute.Int64("bridge.chatwoot.conversation_id", event.Conversation.ID),
	)

	status, code := h.process(ctx, &event)
	h.metrics.ObserveOutboundWebhook(status)
	h.respond(w, code, status)
}

func (h *WebhookHandler) process(ctx context.Context, event *WebhookEvent) (string, int) {
	if event.Event != "message_created" || event.MessageType != "outgoing" {
		return StatusEventIgnored, http.StatusOK
	}

	if strings.HasPrefix(event.Content, notePrefix) || event.Private {
		return StatusPrivateNoteIgnored, http.StatusOK
	}

	if event.Content == "" && len(event.Attachments) == 0 {
		return StatusEmptyMessageIgnored, http.StatusOK
	}

	conv, err := h.store.GetByChatwootConversationID(ctx, event.Conversation.ID)
	if err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			h.logger.Warn("chatwoot message for unknown conversation", "chatwoot_conversation_id", event.Conversation.ID)
			return StatusConversationNotFound, http.StatusNotFound
		}
		h.logger.Error("failed to look up conversation", "error", err, "chatwoot_conversation_id", event.Conversation.ID)
		return StatusTwilioError, http.StatusInternalServerError
	}

	if err := h.deliver(ctx, conv, event); err != nil {
		h.logger.Error("failed to send agent message via twilio", "error", err, "conversation_id", conv.ID)
		return StatusTwilioError, http.StatusInternalServerError
	}

	h.logger.Info("agent message sent", "conversation_id", conv.ID, "to", conv.FromNumber)

	body := event.Content
	if body == "" {
		body = conversation.AgentMediaPlaceholder
	}
	if _, err := h.store.InsertMessage(ctx, conversation.MessageRecord{
		ConversationID: conv.ID,
		Body:           body,
		Direction:      conversation.DirectionOutbound,
	}); err != nil {
		// The user already has the message; losing the log row is the lesser harm.
		h.logger.Error("failed to persist outbound message", "error", err, "conversation_id", conv.ID)
	}

	return StatusSuccess, http.StatusOK
}

func (h *WebhookHandler) deliver(ctx context.Context, conv *conversation.Conversation, event *WebhookEvent) error {
	if len(event.Attachments) == 0 {
		return h.sender.SendText(ctx, conv.FromNumber, event.Content)
	}

	mediaURL, err := h.rehostAttachment(ctx, event.Attachments[0].DataURL)
	if err != nil {
		// Chatwoot keeps the message as undelivered; silently dropping the
		// attachment would tell the agent it went out.
		h.logger.Error("failed to relay chatwoot attachment", "error", err, "conversation_id", conv.ID)
		return err
	}
	return h.sender.SendMedia(ctx, conv.FromNumber, event.Content, mediaURL)
}

// rehostAttachment downloads the agent's attachment from Chatwoot and re-hosts
// it under a collision-resistant key so Twilio can fetch it without credentials.
func (h *WebhookHandler) rehostAttachment(ctx context.Context, dataURL string) (string, error) {
	if h.media == nil {
		return "", errors.New("chatwoot: media relay not configured")
	}
	data, contentType, err := h.media.Fetch(ctx, dataURL, h.apiToken)
	if err != nil {
		return "", err
	}
	hostedURL, err := h.media.Host(ctx, "from_chatwoot", path.Base(dataURL), data, contentType)
	if err != nil {
		return "", err
	}
	h.logger.Info("chatwoot attachment re-hosted", "url", hostedURL)
	return hostedURL, nil
}

func (h *WebhookHandler) respond(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
