package chat

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a direct (two-party) thread. The participant set is fixed
// at creation time; membership never changes afterwards.
type Conversation struct {
	ID              string
	Participants    []string
	CreatedAt       time.Time
	LastMessageAt   time.Time
	LastMessageID   int64
	LastSenderID    string
	LastMessageText string
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil {
		return false
	}
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant of a direct thread.
func (c *Conversation) Peer(userID string) string {
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return ""
}

// LastActivity is the ordering key for conversation lists.
func (c Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// NewDirectConversation validates and shapes a two-party thread between a and b.
func NewDirectConversation(id, a, b string, now time.Time) (*Conversation, error) {
	participants := NormalizeParticipants([]string{a, b})
	if len(participants) != 2 {
		return nil, ErrSelfConversation
	}
	if now.IsZero() {
		now = time.Now()
	}
	return &Conversation{
		ID:           id,
		Participants: participants,
		CreatedAt:    now.UTC(),
	}, nil
}

// NormalizeParticipants trims, deduplicates and sorts a participant set so
// two conversations with the same members always compare equal.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
