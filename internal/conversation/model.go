package conversation

import "time"

// Status is the state of a conversation in the menu/handoff workflow.
type Status string

const (
	// StatusAwaitingMenuResponse means the bot is waiting for a menu choice.
	StatusAwaitingMenuResponse Status = "awaiting_menu_response"
	// StatusWithAgent means the conversation has been handed off to Chatwoot.
	StatusWithAgent Status = "with_agent"
)

// Valid reports whether the status is one the engine knows how to handle.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingMenuResponse, StatusWithAgent:
		return true
	default:
		return false
	}
}

// Conversation is one WhatsApp thread, keyed by the sender's number.
// Chatwoot ids are set once a handoff succeeds and are never unset.
type Conversation struct {
	ID                     int64
	FromNumber             string
	Status                 Status
	ChatwootContactID      *int64
	ChatwootConversationID *int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MessageRecord is an append-only log entry owned by a conversation.
type MessageRecord struct {
	ID             int64
	ConversationID int64
	Body           string
	Direction      string
	TwilioSID      string
	CreatedAt      time.Time
}

// Attachment is a media item carried by an inbound or outbound message.
type Attachment struct {
	URL         string
	ContentType string
}

// InboundMessage is a normalized end-user message from the messaging gateway.
type InboundMessage struct {
	From        string
	Body        string
	TwilioSID   string
	Attachments []Attachment
}

// Reply is what the engine wants said back to the user. An empty body
// means the webhook should be acked silently.
type Reply struct {
	Body string
}
