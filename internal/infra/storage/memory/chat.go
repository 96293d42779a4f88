package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pingme/internal/chat"
	domainchat "pingme/internal/domain/chat"
)

// ChatStore keeps conversations, messages and receipts in memory. It backs
// tests and the dev storage mode; not suitable for production.
type ChatStore struct {
	mu            sync.RWMutex
	conversations map[string]*domainchat.Conversation
	byPair        map[string]string
	messages      map[string][]domainchat.Message // ascending by id
	receipts      map[string]map[string]domainchat.Receipt
	seq           map[string]int64
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		conversations: make(map[string]*domainchat.Conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string][]domainchat.Message),
		receipts:      make(map[string]map[string]domainchat.Receipt),
		seq:           make(map[string]int64),
	}
}

func (s *ChatStore) GetOrCreateDirect(ctx context.Context, a, b string, now time.Time) (*domainchat.Conversation, bool, error) {
	participants := domainchat.NormalizeParticipants([]string{a, b})
	if len(participants) != 2 {
		return nil, false, domainchat.ErrSelfConversation
	}
	key := strings.Join(participants, "|")

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		return cloneConversation(s.conversations[id]), false, nil
	}
	conv, err := domainchat.NewDirectConversation(uuid.NewString(), a, b, now)
	if err != nil {
		return nil, false, err
	}
	s.conversations[conv.ID] = conv
	s.byPair[key] = conv.ID
	return cloneConversation(conv), true, nil
}

func (s *ChatStore) Get(ctx context.Context, conversationID string) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *ChatStore) ListForUser(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	s.mu.RLock()
	out := make([]domainchat.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, *cloneConversation(conv))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

func (s *ChatStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return append([]string(nil), conv.Participants...), nil
}

func (s *ChatStore) ConversationIDsFor(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *ChatStore) TouchLastMessage(ctx context.Context, msg domainchat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	if msg.ID < conv.LastMessageID {
		return nil
	}
	conv.LastMessageID = msg.ID
	conv.LastMessageAt = msg.CreatedAt
	conv.LastSenderID = msg.SenderID
	conv.LastMessageText = msg.Body
	return nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, draft domainchat.MessageDraft) (domainchat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[draft.ConversationID]; !ok {
		return domainchat.Message{}, domainchat.ErrConversationNotFound
	}
	s.seq[draft.ConversationID]++
	msg := domainchat.Message{
		ID:             s.seq[draft.ConversationID],
		ConversationID: draft.ConversationID,
		SenderID:       draft.SenderID,
		Body:           draft.Body,
		Kind:           draft.Kind,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[draft.ConversationID] = append(s.messages[draft.ConversationID], msg)
	return msg, nil
}

func (s *ChatStore) MessageExists(ctx context.Context, conversationID string, messageID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages[conversationID] {
		if msg.ID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *ChatStore) ListMessagesBefore(ctx context.Context, conversationID string, before *chat.Cursor, limit int) ([]domainchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	history := s.messages[conversationID]
	out := make([]domainchat.Message, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		msg := history[i]
		if before != nil && !msg.OlderThan(before.CreatedAt, before.MessageID) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *ChatStore) MarkReadUpTo(ctx context.Context, conversationID, userID string, uptoID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.receipts[conversationID]
	if byKey == nil {
		byKey = make(map[string]domainchat.Receipt)
		s.receipts[conversationID] = byKey
	}
	for _, msg := range s.messages[conversationID] {
		if msg.ID > uptoID || msg.SenderID == userID {
			continue
		}
		key := receiptKey(msg.ID, userID)
		receipt, ok := byKey[key]
		if !ok {
			receipt = domainchat.Receipt{
				ConversationID: conversationID,
				MessageID:      msg.ID,
				UserID:         userID,
				Status:         domainchat.ReceiptDelivered,
				UpdatedAt:      at.UTC(),
			}
		}
		receipt.Advance(domainchat.ReceiptRead, at)
		byKey[key] = receipt
	}
	return nil
}

func (s *ChatStore) MarkDelivered(ctx context.Context, conversationID string, messageID int64, userIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := s.receipts[conversationID]
	if byKey == nil {
		byKey = make(map[string]domainchat.Receipt)
		s.receipts[conversationID] = byKey
	}
	for _, userID := range userIDs {
		key := receiptKey(messageID, userID)
		receipt, ok := byKey[key]
		if !ok {
			byKey[key] = domainchat.Receipt{
				ConversationID: conversationID,
				MessageID:      messageID,
				UserID:         userID,
				Status:         domainchat.ReceiptDelivered,
				UpdatedAt:      at.UTC(),
			}
			continue
		}
		receipt.Advance(domainchat.ReceiptDelivered, at)
		byKey[key] = receipt
	}
	return nil
}

func (s *ChatStore) ReceiptsForMessage(ctx context.Context, conversationID string, messageID int64) ([]domainchat.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domainchat.Receipt
	for _, receipt := range s.receipts[conversationID] {
		if receipt.MessageID == messageID {
			out = append(out, receipt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func receiptKey(messageID int64, userID string) string {
	return fmt.Sprintf("%d|%s", messageID, userID)
}

func cloneConversation(c *domainchat.Conversation) *domainchat.Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	return &out
}
