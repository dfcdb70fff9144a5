package conversation

import (
	"context"
	"strings"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/internal/observability/metrics"
	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

// ConversationStore is the persistence the engine needs.
type ConversationStore interface {
	GetOrCreateByNumber(ctx context.Context, fromNumber string) (*Conversation, bool, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	MarkWithAgent(ctx context.Context, id int64, contactID, chatwootConversationID int64) error
	InsertMessage(ctx context.Context, rec MessageRecord) (int64, error)
}

// HelpdeskClient is the subset of the Chatwoot API the engine drives.
type HelpdeskClient interface {
	SearchContact(ctx context.Context, phoneNumber string) (int64, bool, error)
	CreateContact(ctx context.Context, phoneNumber string) (int64, error)
	CreateConversation(ctx context.Context, contactID int64) (int64, error)
	ForwardMessage(ctx context.Context, conversationID int64, body string) error
	ForwardAttachment(ctx context.Context, conversationID int64, url, contentType, caption string) error
}

// Engine decides, per inbound message, what state the conversation is in,
// what to reply, and when to hand off to a human agent.
type Engine struct {
	store    ConversationStore
	helpdesk HelpdeskClient
	metrics  *metrics.BridgeMetrics
	logger   *logging.Logger
}

// NewEngine creates the conversation engine.
func NewEngine(store ConversationStore, helpdesk HelpdeskClient, m *metrics.BridgeMetrics, logger *logging.Logger) *Engine {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if helpdesk == nil {
		panic("conversation: helpdesk client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{store: store, helpdesk: helpdesk, metrics: m, logger: logger}
}

// OnInboundMessage runs the state machine for one end-user message.
// The returned error means the message could not be processed at all
// (storage failure); remote helpdesk failures degrade into fixed replies.
func (e *Engine) OnInboundMessage(ctx context.Context, msg InboundMessage) (Reply, error) {
	body := strings.TrimSpace(msg.Body)

	conv, created, err := e.store.GetOrCreateByNumber(ctx, msg.From)
	if err != nil {
		return Reply{}, err
	}

	// A brand-new conversation gets the menu; the triggering message is not
	// routed through the dispatcher.
	if created {
		e.logger.Info("new conversation", "conversation_id", conv.ID, "from", msg.From)
		return Reply{Body: MainMenuMessage}, nil
	}

	if _, err := e.store.InsertMessage(ctx, MessageRecord{
		ConversationID: conv.ID,
		Body:           body,
		Direction:      DirectionInbound,
		TwilioSID:      msg.TwilioSID,
	}); err != nil {
		return Reply{}, err
	}

	switch conv.Status {
	case StatusAwaitingMenuResponse:
		return e.handleMenuChoice(ctx, body, conv), nil
	case StatusWithAgent:
		e.forwardToHelpdesk(ctx, body, msg.Attachments, conv)
		return Reply{}, nil
	default:
		// Corrupt state: recover to the menu instead of wedging the thread.
		e.logger.Error("unknown conversation status", "conversation_id", conv.ID, "status", string(conv.Status))
		if err := e.store.SetStatus(ctx, conv.ID, StatusAwaitingMenuResponse); err != nil {
			e.logger.Error("failed to reset conversation status", "error", err, "conversation_id", conv.ID)
		}
		return Reply{Body: MainMenuMessage}, nil
	}
}

func (e *Engine) handleMenuChoice(ctx context.Context, choice string, conv *Conversation) Reply {
	switch choice {
	case "1":
		// Rewrite the status even though it does not change, so option 1 can
		// grow side effects without touching the transition table.
		if err := e.store.SetStatus(ctx, conv.ID, StatusAwaitingMenuResponse); err != nil {
			e.logger.Error("failed to persist status", "error", err, "conversation_id", conv.ID)
		}
		return Reply{Body: InsuranceStatusMessage}
	case "2":
		return e.initiateHandoff(ctx, conv)
	default:
		return Reply{Body: InvalidOptionMessage}
	}
}

// initiateHandoff resolves (or creates) the Chatwoot contact, opens a fresh
// Chatwoot conversation and flips the local state to with_agent. Nothing is
// persisted unless every remote step succeeds.
func (e *Engine) initiateHandoff(ctx context.Context, conv *Conversation) Reply {
	contactID, found, err := e.helpdesk.SearchContact(ctx, conv.FromNumber)
	if err != nil {
		e.logger.Error("chatwoot contact search failed", "error", err, "conversation_id", conv.ID)
		e.metrics.ObserveHandoff("failed")
		return Reply{Body: HandoffFailedMessage}
	}
	if !found {
		contactID, err = e.helpdesk.CreateContact(ctx, conv.FromNumber)
		if err != nil {
			e.logger.Error("chatwoot contact creation failed", "error", err, "conversation_id", conv.ID)
			e.metrics.ObserveHandoff("failed")
			return Reply{Body: HandoffFailedMessage}
		}
	}

	// Every handoff opens a new Chatwoot conversation, even when a previous
	// one exists for this contact.
	chatwootConversationID, err := e.helpdesk.CreateConversation(ctx, contactID)
	if err != nil {
		e.logger.Error("chatwoot conversation creation failed", "error", err, "conversation_id", conv.ID)
		e.metrics.ObserveHandoff("failed")
		return Reply{Body: HandoffFailedMessage}
	}

	if err := e.store.MarkWithAgent(ctx, conv.ID, contactID, chatwootConversationID); err != nil {
		e.logger.Error("failed to persist handoff", "error", err, "conversation_id", conv.ID)
		e.metrics.ObserveHandoff("failed")
		return Reply{Body: HandoffFailedMessage}
	}

	e.metrics.ObserveHandoff("success")
	e.logger.Info("conversation transferred to chatwoot",
		"conversation_id", conv.ID,
		"chatwoot_contact_id", contactID,
		"chatwoot_conversation_id", chatwootConversationID,
	)
	return Reply{Body: TransferMessage}
}

// forwardToHelpdesk relays a user message into the agent's Chatwoot
// conversation. Failures are logged and swallowed: the user gets a silent
// ack either way and the local state is untouched.
func (e *Engine) forwardToHelpdesk(ctx context.Context, body string, attachments []Attachment, conv *Conversation) {
	if conv.ChatwootConversationID == nil {
		e.logger.Error("conversation in with_agent without chatwoot id", "conversation_id", conv.ID)
		return
	}
	chatwootConversationID := *conv.ChatwootConversationID

	var err error
	if len(attachments) > 0 {
		first := attachments[0]
		err = e.helpdesk.ForwardAttachment(ctx, chatwootConversationID, first.URL, first.ContentType, body)
	} else {
		err = e.helpdesk.ForwardMessage(ctx, chatwootConversationID, body)
	}
	if err != nil {
		e.logger.Error("failed to forward message to chatwoot",
			"error", err,
			"conversation_id", conv.ID,
			"chatwoot_conversation_id", chatwootConversationID,
		)
	}
}
