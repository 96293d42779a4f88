package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"pingme/internal/chat"
	domainchat "pingme/internal/domain/chat"
	"pingme/internal/presence"
)

// ChatHandler exposes conversation and message endpoints over the chat
// service.
type ChatHandler struct {
	Service  *chat.Service
	Presence *presence.Tracker
	Logger   *slog.Logger
}

// CreateDirectConversation starts (or returns) the direct thread between
// the caller and the requested user.
func (h ChatHandler) CreateDirectConversation(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	conv, err := h.Service.StartDirect(c.Request.Context(), principal.ID, req.UserID)
	if err != nil {
		h.respondChatError(c, err, "start conversation", "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(conv))
}

// ListMyConversations returns the caller's threads, most recent activity
// first.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	conversations, err := h.Service.ListConversations(c.Request.Context(), principal.ID)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", principal.ID)
		return
	}
	out := conversationListDTO{Items: make([]conversationDTO, 0, len(conversations))}
	for i := range conversations {
		out.Items = append(out.Items, toConversationDTO(&conversations[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetConversation returns one thread when the caller participates in it.
func (h ChatHandler) GetConversation(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	conv, err := h.Service.GetConversation(c.Request.Context(), conversationID, principal.ID)
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(conv))
}

// ListMessages pages backwards through a conversation's history.
func (h ChatHandler) ListMessages(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}
	cursor := c.Query("cursor")

	messages, next, err := h.Service.History(c.Request.Context(), conversationID, principal.ID, limit, cursor)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	out := messageListDTO{Items: make([]messageDTO, 0, len(messages))}
	if next != "" {
		out.NextCursor = &next
	}
	for _, msg := range messages {
		out.Items = append(out.Items, messageDTO{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Text:           msg.Body,
			Kind:           string(msg.Kind),
			CreatedAt:      msg.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// SendMessage posts a message over HTTP. Connected recipients still get it
// pushed through their sockets.
func (h ChatHandler) SendMessage(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, err := h.Service.Send(c.Request.Context(), conversationID, principal.ID, req.Text)
	if err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.JSON(http.StatusCreated, messageDTO{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Body,
		Kind:           string(msg.Kind),
		CreatedAt:      msg.CreatedAt,
	})
}

// MarkRead advances the caller's read position in a conversation.
func (h ChatHandler) MarkRead(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	var req struct {
		MessageID int64 `json:"messageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MessageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}
	if err := h.Service.MarkRead(c.Request.Context(), conversationID, principal.ID, req.MessageID); err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", conversationID, "user_id", principal.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPresence reports another user's online state and last-seen time.
func (h ChatHandler) GetPresence(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	userID := c.Param("id")
	online := h.Presence.IsOnline(userID)
	out := presenceDTO{UserID: userID, Online: online}
	if !online {
		lastSeen, err := h.Presence.LastSeen(c.Request.Context(), userID)
		if err != nil && h.Logger != nil {
			h.Logger.Warn("last-seen lookup failed", "user_id", userID, "error", err)
		}
		if !lastSeen.IsZero() {
			out.LastSeen = &lastSeen
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, fields ...any) {
	switch {
	case errors.Is(err, domainchat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, domainchat.ErrEmptyBody),
		errors.Is(err, domainchat.ErrBadLimit),
		errors.Is(err, domainchat.ErrBadCursor),
		errors.Is(err, domainchat.ErrSelfConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrStoreTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "storage timeout"})
	case errors.Is(err, domainchat.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat request failed", append([]any{"action", action, "error", err}, fields...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toConversationDTO(conv *domainchat.Conversation) conversationDTO {
	return conversationDTO{
		ID:              conv.ID,
		Participants:    append([]string(nil), conv.Participants...),
		CreatedAt:       conv.CreatedAt,
		LastMessageAt:   conv.LastMessageAt,
		LastMessageID:   conv.LastMessageID,
		LastSenderID:    conv.LastSenderID,
		LastMessageText: conv.LastMessageText,
	}
}
