package ginserver

import "time"

type conversationDTO struct {
	ID              string    `json:"id"`
	Participants    []string  `json:"participants"`
	CreatedAt       time.Time `json:"createdAt"`
	LastMessageAt   time.Time `json:"lastMessageAt,omitempty"`
	LastMessageID   int64     `json:"lastMessageId,omitempty"`
	LastSenderID    string    `json:"lastSenderId,omitempty"`
	LastMessageText string    `json:"lastMessageText,omitempty"`
}

type conversationListDTO struct {
	Items []conversationDTO `json:"items"`
}

type messageDTO struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NextCursor is a pointer so an exhausted history serializes as an
// explicit null rather than dropping the field.
type messageListDTO struct {
	Items      []messageDTO `json:"items"`
	NextCursor *string      `json:"nextCursor"`
}

type userDTO struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"createdAt"`
}

type presenceDTO struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
