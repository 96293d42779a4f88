package realtime

import (
	"context"
	"log/slog"
	"time"

	domainchat "pingme/internal/domain/chat"
)

// ParticipantSource resolves conversation membership for authorization and
// presence fan-out. The conversation store satisfies it.
type ParticipantSource interface {
	Participants(ctx context.Context, conversationID string) ([]string, error)
	ConversationIDsFor(ctx context.Context, userID string) ([]string, error)
}

// Hub routes events to the connections subscribed to a conversation.
// Delivery is at-most-once per currently registered connection and
// fire-and-forget per recipient: a failed write to one connection never
// affects the others.
type Hub struct {
	Registry      *Registry
	Conversations ParticipantSource
	Logger        *slog.Logger
}

// Subscribe attaches a connection to a conversation room after verifying the
// user is a participant. Non-participants get ErrNotParticipant.
func (h *Hub) Subscribe(ctx context.Context, conn *Conn, conversationID string) error {
	participants, err := h.Conversations.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	if !contains(participants, conn.UserID) {
		return domainchat.ErrNotParticipant
	}
	h.Registry.Subscribe(conn, conversationID)
	return nil
}

// Unsubscribe detaches a connection from a conversation room.
func (h *Hub) Unsubscribe(conn *Conn, conversationID string) {
	h.Registry.Unsubscribe(conn, conversationID)
}

// Publish fans an event out on behalf of a sending connection. The sender
// must be subscribed to the target conversation, which also proves
// participation since Subscribe gates on membership.
func (h *Hub) Publish(ctx context.Context, ev Event, sender *Conn) (Delivery, error) {
	if !h.Registry.IsSubscribed(sender, ev.ConversationID) {
		return Delivery{}, domainchat.ErrNotParticipant
	}
	return h.Broadcast(ctx, ev.ConversationID, ev), nil
}

// Broadcast delivers the event to every connection of the conversation room.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, ev Event) Delivery {
	ev.ConversationID = conversationID
	payload, err := ev.Encode()
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("event encode failed", "type", ev.Type, "conversation_id", conversationID, "error", err)
		}
		return Delivery{}
	}

	delivery := Delivery{PerUser: make(map[string]int)}
	for _, conn := range h.Registry.ConnectionsFor(conversationID) {
		if err := conn.Send(payload); err != nil {
			continue
		}
		delivery.Connections++
		delivery.PerUser[conn.UserID]++
	}
	return delivery
}

// BroadcastPresence notifies everyone sharing a conversation with the user
// that their presence changed. Best-effort: resolution failures are logged
// and the signal is dropped, never blocking message flow.
func (h *Hub) BroadcastPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) {
	conversationIDs, err := h.Conversations.ConversationIDsFor(ctx, userID)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("presence fan-out skipped", "user_id", userID, "error", err)
		}
		return
	}

	ev := Event{
		Type: EventPresence,
		Payload: Payload{
			UserID:   userID,
			Online:   &online,
			LastSeen: &lastSeen,
		},
		TS: time.Now().UTC(),
	}
	seen := make(map[string]struct{})
	for _, conversationID := range conversationIDs {
		for _, conn := range h.Registry.ConnectionsFor(conversationID) {
			if conn.UserID == userID {
				continue
			}
			// one presence signal per connection even when conversations overlap
			if _, dup := seen[conn.ID]; dup {
				continue
			}
			seen[conn.ID] = struct{}{}
			scoped := ev
			scoped.ConversationID = conversationID
			if payload, err := scoped.Encode(); err == nil {
				_ = conn.Send(payload)
			}
		}
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
