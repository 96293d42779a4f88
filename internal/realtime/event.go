package realtime

import (
	"encoding/json"
	"time"
)

// EventType discriminates the realtime envelope.
type EventType string

const (
	EventMessage  EventType = "MESSAGE"
	EventTyping   EventType = "TYPING"
	EventRead     EventType = "READ"
	EventPresence EventType = "PRESENCE"
)

// Payload carries the type-specific fields of an event. Only the fields
// relevant to the event type are set; the rest stay omitted on the wire.
type Payload struct {
	Text      string     `json:"text,omitempty"`
	MessageID int64      `json:"messageId,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	IsTyping  *bool      `json:"isTyping,omitempty"`
	Status    string     `json:"status,omitempty"`
	Online    *bool      `json:"online,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// Event is the wire envelope delivered to subscribed connections.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Payload        Payload   `json:"payload"`
	TS             time.Time `json:"ts"`
}

// Encode serializes the envelope, stamping TS when the caller left it zero.
func (e Event) Encode() ([]byte, error) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	return json.Marshal(e)
}

// Delivery summarizes one fan-out: how many connections received the event
// and how many each user received it on.
type Delivery struct {
	Connections int
	PerUser     map[string]int
}
