package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConversationNotFound is returned when no conversation matches a lookup.
var ErrConversationNotFound = errors.New("conversation: not found")

// PgxPool is the pgxpool subset the store needs (pgxmock-compatible).
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and their message log in Postgres.
type Store struct {
	pool PgxPool
}

// NewStore builds a store over a pgx pool.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &Store{pool: pool}
}

const conversationColumns = `id, from_number, status, chatwoot_contact_id, chatwoot_conversation_id, created_at, updated_at`

// GetOrCreateByNumber finds the conversation for a sender, creating it in
// awaiting_menu_response when unseen. Two webhook deliveries can race on the
// first message; the unique index on from_number makes the loser fall through
// to the SELECT.
func (s *Store) GetOrCreateByNumber(ctx context.Context, fromNumber string) (*Conversation, bool, error) {
	insert := `
		INSERT INTO conversations (from_number, status)
		VALUES ($1, $2)
		ON CONFLICT (from_number) DO NOTHING
		RETURNING ` + conversationColumns
	conv, err := scanConversation(s.pool.QueryRow(ctx, insert, fromNumber, StatusAwaitingMenuResponse))
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("conversation: create: %w", err)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE from_number = $1`
	conv, err = scanConversation(s.pool.QueryRow(ctx, query, fromNumber))
	if err != nil {
		return nil, false, fmt.Errorf("conversation: get by number: %w", err)
	}
	return conv, false, nil
}

// GetByChatwootConversationID routes agent replies back to a local conversation.
func (s *Store) GetByChatwootConversationID(ctx context.Context, chatwootConversationID int64) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE chatwoot_conversation_id = $1`
	conv, err := scanConversation(s.pool.QueryRow(ctx, query, chatwootConversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversation: get by chatwoot id: %w", err)
	}
	return conv, nil
}

// SetStatus rewrites the conversation status.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) error {
	query := `
		UPDATE conversations
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("conversation: set status: %w", err)
	}
	return nil
}

// MarkWithAgent persists a successful handoff in one write: both Chatwoot ids
// and the with_agent status land together or not at all.
func (s *Store) MarkWithAgent(ctx context.Context, id int64, contactID, chatwootConversationID int64) error {
	query := `
		UPDATE conversations
		SET status = $2,
			chatwoot_contact_id = $3,
			chatwoot_conversation_id = $4,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, StatusWithAgent, contactID, chatwootConversationID); err != nil {
		return fmt.Errorf("conversation: mark with agent: %w", err)
	}
	return nil
}

// InsertMessage appends a message row to a conversation's log.
func (s *Store) InsertMessage(ctx context.Context, rec MessageRecord) (int64, error) {
	query := `
		INSERT INTO messages (conversation_id, body, direction, twilio_sid)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, query, rec.ConversationID, rec.Body, rec.Direction, rec.TwilioSID).Scan(&id); err != nil {
		return 0, fmt.Errorf("conversation: insert message: %w", err)
	}
	return id, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	if err := row.Scan(
		&conv.ID,
		&conv.FromNumber,
		&conv.Status,
		&conv.ChatwootContactID,
		&conv.ChatwootConversationID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conv, nil
}
