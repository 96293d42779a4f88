package chat

import "errors"

// Sentinel errors for the chat core. The transport layer maps them onto
// status codes: ErrNotParticipant is a Forbidden, the validation errors are
// InvalidArgument, the not-found pair is NotFound, and the store errors come
// from classifying driver failures.
var (
	ErrNotParticipant       = errors.New("chat: user is not a participant of the conversation")
	ErrEmptyBody            = errors.New("chat: message body is empty")
	ErrBadLimit             = errors.New("chat: page limit must be positive")
	ErrBadCursor            = errors.New("chat: malformed pagination cursor")
	ErrSelfConversation     = errors.New("chat: a direct conversation needs two distinct users")
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrMessageNotFound      = errors.New("chat: message not found")
	ErrStoreTimeout         = errors.New("chat: storage deadline exceeded")
	ErrStoreUnavailable     = errors.New("chat: storage unavailable")
)
