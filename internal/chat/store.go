package chat

import (
	"context"
	"time"

	domainchat "pingme/internal/domain/chat"
)

// MessageStore persists messages. InsertMessage assigns the server-side
// identifier and timestamp; that assignment is the single ordering
// authority for a conversation's message sequence.
type MessageStore interface {
	InsertMessage(ctx context.Context, draft domainchat.MessageDraft) (domainchat.Message, error)
	// ListMessagesBefore returns up to limit messages strictly older than
	// the cursor (all newest-first when the cursor is nil), in
	// (created_at, id) descending order.
	ListMessagesBefore(ctx context.Context, conversationID string, before *Cursor, limit int) ([]domainchat.Message, error)
	MessageExists(ctx context.Context, conversationID string, messageID int64) (bool, error)
}

// ReceiptStore persists per-recipient delivery state.
type ReceiptStore interface {
	// MarkReadUpTo upserts a read receipt for every message in the
	// conversation with id <= uptoID whose sender is not userID. Repeat
	// calls with the same arguments are no-ops.
	MarkReadUpTo(ctx context.Context, conversationID, userID string, uptoID int64, at time.Time) error
	// MarkDelivered records delivered receipts for the given recipients,
	// never downgrading an existing read receipt.
	MarkDelivered(ctx context.Context, conversationID string, messageID int64, userIDs []string, at time.Time) error
	ReceiptsForMessage(ctx context.Context, conversationID string, messageID int64) ([]domainchat.Receipt, error)
}

// ConversationStore persists direct threads and resolves membership.
type ConversationStore interface {
	GetOrCreateDirect(ctx context.Context, a, b string, now time.Time) (*domainchat.Conversation, bool, error)
	Get(ctx context.Context, conversationID string) (*domainchat.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]domainchat.Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	ConversationIDsFor(ctx context.Context, userID string) ([]string, error)
	TouchLastMessage(ctx context.Context, msg domainchat.Message) error
}
