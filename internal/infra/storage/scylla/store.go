package scylla

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"pingme/internal/chat"
	domainchat "pingme/internal/domain/chat"
	"pingme/internal/infra/storage/storeerr"
)

const seqBits = 20

// Store implements the message and receipt ports on Scylla.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
	ids     idGenerator
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

// idGenerator assigns message ids of the form (unix_millis << 20) | seq.
// Ids from one process are strictly increasing; per-conversation
// monotonicity holds because the pipeline serializes inserts per
// conversation.
type idGenerator struct {
	mu     sync.Mutex
	lastMs int64
	seq    int64
}

func (g *idGenerator) next(now time.Time) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= g.lastMs {
		g.seq++
		if g.seq >= 1<<seqBits {
			g.lastMs++
			g.seq = 0
		}
		ms = g.lastMs
	} else {
		g.lastMs = ms
		g.seq = 0
	}
	return ms<<seqBits | g.seq
}

func (s *Store) InsertMessage(ctx context.Context, draft domainchat.MessageDraft) (domainchat.Message, error) {
	if s.session == nil {
		return domainchat.Message{}, errors.New("scylla session not initialized")
	}
	now := time.Now().UTC()
	msg := domainchat.Message{
		ID:             s.ids.next(now),
		ConversationID: draft.ConversationID,
		SenderID:       draft.SenderID,
		Body:           draft.Body,
		Kind:           draft.Kind,
		CreatedAt:      now,
	}
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, id, sender_id, body, kind, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ConversationID, msg.ID, msg.SenderID, msg.Body, string(msg.Kind), msg.CreatedAt).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return domainchat.Message{}, storeerr.Classify(err)
	}
	return msg, nil
}

func (s *Store) MessageExists(ctx context.Context, conversationID string, messageID int64) (bool, error) {
	if s.session == nil {
		return false, errors.New("scylla session not initialized")
	}
	var id int64
	err := s.session.
		Query(`SELECT id FROM messages WHERE conversation_id = ? AND id = ? LIMIT 1`, conversationID, messageID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		return false, storeerr.Classify(err)
	}
	return true, nil
}

func (s *Store) ListMessagesBefore(ctx context.Context, conversationID string, before *chat.Cursor, limit int) ([]domainchat.Message, error) {
	if s.session == nil {
		return nil, errors.New("scylla session not initialized")
	}

	var iter *gocql.Iter
	if before != nil {
		iter = s.session.
			Query(`SELECT conversation_id, id, sender_id, body, kind, created_at FROM messages WHERE conversation_id = ? AND id < ? ORDER BY id DESC LIMIT ?`,
				conversationID, before.MessageID, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	} else {
		iter = s.session.
			Query(`SELECT conversation_id, id, sender_id, body, kind, created_at FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
				conversationID, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	}

	messages := make([]domainchat.Message, 0, limit)
	var (
		convID    string
		id        int64
		sender    string
		body      string
		kind      string
		createdAt time.Time
	)
	for iter.Scan(&convID, &id, &sender, &body, &kind, &createdAt) {
		messages = append(messages, domainchat.Message{
			ID:             id,
			ConversationID: convID,
			SenderID:       sender,
			Body:           body,
			Kind:           domainchat.Kind(kind),
			CreatedAt:      createdAt.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, storeerr.Classify(err)
	}
	return messages, nil
}

func (s *Store) MarkReadUpTo(ctx context.Context, conversationID, userID string, uptoID int64, at time.Time) error {
	if s.session == nil {
		return errors.New("scylla session not initialized")
	}
	iter := s.session.
		Query(`SELECT id, sender_id FROM messages WHERE conversation_id = ? AND id <= ?`, conversationID, uptoID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()

	var (
		id     int64
		sender string
		ids    []int64
	)
	for iter.Scan(&id, &sender) {
		if sender == userID {
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return storeerr.Classify(err)
	}

	// Read never downgrades, so a plain upsert is safe and idempotent.
	at = at.UTC()
	for _, messageID := range ids {
		if err := s.session.
			Query(`INSERT INTO receipts (conversation_id, message_id, user_id, status, updated_at) VALUES (?, ?, ?, ?, ?)`,
				conversationID, messageID, userID, string(domainchat.ReceiptRead), at).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return storeerr.Classify(err)
		}
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, conversationID string, messageID int64, userIDs []string, at time.Time) error {
	if s.session == nil {
		return errors.New("scylla session not initialized")
	}
	at = at.UTC()
	for _, userID := range userIDs {
		// IF NOT EXISTS keeps an existing read receipt from being
		// downgraded to delivered.
		if err := s.session.
			Query(`INSERT INTO receipts (conversation_id, message_id, user_id, status, updated_at) VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`,
				conversationID, messageID, userID, string(domainchat.ReceiptDelivered), at).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return storeerr.Classify(err)
		}
	}
	return nil
}

func (s *Store) ReceiptsForMessage(ctx context.Context, conversationID string, messageID int64) ([]domainchat.Receipt, error) {
	if s.session == nil {
		return nil, errors.New("scylla session not initialized")
	}
	iter := s.session.
		Query(`SELECT user_id, status, updated_at FROM receipts WHERE conversation_id = ? AND message_id = ?`, conversationID, messageID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()

	var (
		userID    string
		status    string
		updatedAt time.Time
	)
	receipts := make([]domainchat.Receipt, 0)
	for iter.Scan(&userID, &status, &updatedAt) {
		receipts = append(receipts, domainchat.Receipt{
			ConversationID: conversationID,
			MessageID:      messageID,
			UserID:         userID,
			Status:         domainchat.ReceiptStatus(status),
			UpdatedAt:      updatedAt.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, storeerr.Classify(err)
	}
	return receipts, nil
}
