package chat

import (
	"strings"
	"time"
)

// Kind tags the message content. Only text delivery semantics are
// implemented; the other tags exist so stored rows stay forward-compatible.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Message is an immutable log entry in a conversation. The identifier is
// assigned by the storage layer and increases monotonically within the
// conversation; it is the single ordering authority for the thread.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	Body           string
	Kind           Kind
	CreatedAt      time.Time
}

// MessageDraft carries a not-yet-persisted message through validation.
type MessageDraft struct {
	ConversationID string
	SenderID       string
	Body           string
	Kind           Kind
}

// NewMessageDraft validates message input before it reaches storage.
// The body must be non-empty after trimming.
func NewMessageDraft(conversationID, senderID, body string) (MessageDraft, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return MessageDraft{}, ErrEmptyBody
	}
	return MessageDraft{
		ConversationID: conversationID,
		SenderID:       strings.TrimSpace(senderID),
		Body:           body,
		Kind:           KindText,
	}, nil
}

// OlderThan reports whether m sorts strictly before (ts, id) under the
// (created_at, id) descending cursor order. Ties on the timestamp fall back
// to the identifier so the order stays total when clocks collide.
func (m Message) OlderThan(ts time.Time, id int64) bool {
	if m.CreatedAt.Before(ts) {
		return true
	}
	if m.CreatedAt.Equal(ts) {
		return m.ID < id
	}
	return false
}
