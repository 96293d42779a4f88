package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	domainchat "pingme/internal/domain/chat"
	"pingme/internal/realtime"
)

// MaxPageLimit bounds history page sizes.
const MaxPageLimit = 100

// OfflineMessageTaskType names the queue task enqueued when a recipient has
// no live connection to deliver a MESSAGE event to.
const OfflineMessageTaskType = "chat:offline_message"

// OfflineMessagePayload is the queue task payload for offline recipients.
type OfflineMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
}

// Broadcaster fans an event out to the connections of a conversation.
// The realtime Hub satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationID string, ev realtime.Event) realtime.Delivery
}

// TaskQueue hands background work to a job queue. Optional; a nil queue
// disables offline notifications.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload []byte) error
}

// EventOutbox appends domain events for asynchronous publication. Optional.
type EventOutbox interface {
	Append(ctx context.Context, name, aggregateID string, payload []byte) error
}

// Service is the message pipeline: it validates, persists, and sequences the
// outbound broadcast of conversation events. Persisted storage is the source
// of truth; realtime delivery is a best-effort convenience layer on top.
type Service struct {
	Conversations ConversationStore
	Messages      MessageStore
	Receipts      ReceiptStore
	Broadcast     Broadcaster
	Queue         TaskQueue
	Outbox        EventOutbox
	Logger        *slog.Logger

	locks conversationLocks
}

// StartDirect returns the direct thread between the requester and the other
// user, creating it on first contact. The participant set is immutable once
// created.
func (s *Service) StartDirect(ctx context.Context, requesterID, otherID string) (*domainchat.Conversation, error) {
	requesterID = strings.TrimSpace(requesterID)
	otherID = strings.TrimSpace(otherID)
	if requesterID == "" || otherID == "" || requesterID == otherID {
		return nil, domainchat.ErrSelfConversation
	}
	conv, created, err := s.Conversations.GetOrCreateDirect(ctx, requesterID, otherID, time.Now())
	if err != nil {
		return nil, err
	}
	if created && s.Logger != nil {
		s.Logger.Info("conversation created", "conversation_id", conv.ID, "participants", conv.Participants)
	}
	return conv, nil
}

// ListConversations returns the user's threads ordered by last activity.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]domainchat.Conversation, error) {
	return s.Conversations.ListForUser(ctx, userID)
}

// GetConversation loads a thread, enforcing participant-only access.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*domainchat.Conversation, error) {
	conv, err := s.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, domainchat.ErrNotParticipant
	}
	return conv, nil
}

// Authorize verifies the user participates in the conversation.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) error {
	participants, err := s.Conversations.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if !containsID(participants, userID) {
		return domainchat.ErrNotParticipant
	}
	return nil
}

// Send validates, persists, and broadcasts a new message. Persistence is the
// ordering point: the store assigns the id under a per-conversation critical
// section that also covers the broadcast, so subscribers observe events in
// persisted id order. A persistence failure short-circuits the send; nothing
// is broadcast.
func (s *Service) Send(ctx context.Context, conversationID, senderID, body string) (domainchat.Message, error) {
	draft, err := domainchat.NewMessageDraft(conversationID, senderID, body)
	if err != nil {
		return domainchat.Message{}, err
	}
	participants, err := s.Conversations.Participants(ctx, conversationID)
	if err != nil {
		return domainchat.Message{}, err
	}
	if !containsID(participants, senderID) {
		return domainchat.Message{}, domainchat.ErrNotParticipant
	}

	unlock := s.locks.lock(conversationID)
	msg, err := s.Messages.InsertMessage(ctx, draft)
	if err != nil {
		unlock()
		return domainchat.Message{}, err
	}

	// Past the persistence point the message is durable: finish the
	// broadcast even if the sender's context is already canceled, so a
	// stored message is never silently dropped from the stream.
	bctx := context.WithoutCancel(ctx)
	var delivery realtime.Delivery
	if s.Broadcast != nil {
		delivery = s.Broadcast.Broadcast(bctx, conversationID, messageEvent(msg))
	}
	unlock()

	s.afterSend(bctx, msg, participants, delivery)
	return msg, nil
}

// MarkRead upserts a read receipt for every message with id <= uptoID not
// sent by the acknowledging user, then broadcasts one aggregated READ event.
// Idempotent: repeating the call leaves receipt state unchanged.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string, uptoID int64) error {
	participants, err := s.Conversations.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if !containsID(participants, userID) {
		return domainchat.ErrNotParticipant
	}
	exists, err := s.Messages.MessageExists(ctx, conversationID, uptoID)
	if err != nil {
		return err
	}
	if !exists {
		return domainchat.ErrMessageNotFound
	}
	if err := s.Receipts.MarkReadUpTo(ctx, conversationID, userID, uptoID, time.Now()); err != nil {
		return err
	}

	if s.Broadcast != nil {
		s.Broadcast.Broadcast(context.WithoutCancel(ctx), conversationID, readEvent(conversationID, userID, uptoID))
	}
	return nil
}

// History returns one page of messages in ascending chronological order plus
// an opaque cursor pointing strictly before the oldest item of the page. An
// empty cursor means the history is exhausted.
func (s *Service) History(ctx context.Context, conversationID, userID string, limit int, beforeToken string) ([]domainchat.Message, string, error) {
	if limit <= 0 {
		return nil, "", domainchat.ErrBadLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if err := s.Authorize(ctx, conversationID, userID); err != nil {
		return nil, "", err
	}

	var before *Cursor
	if strings.TrimSpace(beforeToken) != "" {
		cursor, err := decodeCursor(beforeToken)
		if err != nil {
			return nil, "", err
		}
		before = &cursor
	}

	items, err := s.Messages.ListMessagesBefore(ctx, conversationID, before, limit)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(items) == limit {
		oldest := items[len(items)-1]
		next = encodeCursor(Cursor{CreatedAt: oldest.CreatedAt, MessageID: oldest.ID})
	}
	reverseMessages(items)
	return items, next, nil
}

// afterSend runs the best-effort tail of a send: conversation metadata,
// outbox append, delivered receipts, and offline notifications. None of it
// can fail the send; errors are logged and dropped.
func (s *Service) afterSend(ctx context.Context, msg domainchat.Message, participants []string, delivery realtime.Delivery) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.Conversations.TouchLastMessage(ctx, msg); err != nil && s.Logger != nil {
		s.Logger.Warn("last message metadata update failed", "conversation_id", msg.ConversationID, "error", err)
	}

	if s.Outbox != nil {
		payload, err := json.Marshal(map[string]any{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
			"sender_id":       msg.SenderID,
			"created_at":      msg.CreatedAt,
		})
		if err == nil {
			err = s.Outbox.Append(ctx, "chat.message_created", msg.ConversationID, payload)
		}
		if err != nil && s.Logger != nil {
			s.Logger.Warn("outbox append failed", "message_id", msg.ID, "error", err)
		}
	}

	var deliveredTo []string
	for _, participant := range participants {
		if participant == msg.SenderID {
			continue
		}
		if delivery.PerUser[participant] > 0 {
			deliveredTo = append(deliveredTo, participant)
			continue
		}
		s.enqueueOffline(ctx, msg, participant)
	}
	if len(deliveredTo) > 0 {
		if err := s.Receipts.MarkDelivered(ctx, msg.ConversationID, msg.ID, deliveredTo, time.Now()); err != nil && s.Logger != nil {
			s.Logger.Warn("delivered receipt write failed", "message_id", msg.ID, "error", err)
		}
	}
}

func (s *Service) enqueueOffline(ctx context.Context, msg domainchat.Message, recipientID string) {
	if s.Queue == nil {
		return
	}
	payload, err := json.Marshal(OfflineMessagePayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    recipientID,
	})
	if err != nil {
		return
	}
	if err := s.Queue.Enqueue(ctx, OfflineMessageTaskType, payload); err != nil && s.Logger != nil {
		s.Logger.Warn("offline notification enqueue failed", "recipient_id", recipientID, "message_id", msg.ID, "error", err)
	}
}

func messageEvent(msg domainchat.Message) realtime.Event {
	return realtime.Event{
		Type:           realtime.EventMessage,
		ConversationID: msg.ConversationID,
		Payload: realtime.Payload{
			Text:      msg.Body,
			MessageID: msg.ID,
			UserID:    msg.SenderID,
		},
		TS: msg.CreatedAt,
	}
}

func readEvent(conversationID, userID string, uptoID int64) realtime.Event {
	return realtime.Event{
		Type:           realtime.EventRead,
		ConversationID: conversationID,
		Payload: realtime.Payload{
			MessageID: uptoID,
			UserID:    userID,
			Status:    string(domainchat.ReceiptRead),
		},
		TS: time.Now().UTC(),
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func reverseMessages(items []domainchat.Message) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
