package ginserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pingme/internal/chat"
	domainchat "pingme/internal/domain/chat"
	"pingme/internal/presence"
	"pingme/internal/realtime"
)

const (
	readLimit = 64 << 10
	pongWait  = 60 * time.Second
)

// clientFrame is the inbound websocket protocol. Type mirrors the outbound
// event types plus the SUBSCRIBE/UNSUBSCRIBE control pair.
type clientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Payload        struct {
		Text      string `json:"text"`
		MessageID int64  `json:"messageId"`
		IsTyping  *bool  `json:"isTyping"`
	} `json:"payload"`
}

type errorFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error"`
}

// WSHandler upgrades authenticated requests and drives the per-connection
// read loop. Writes go through the connection's writer goroutine; this
// handler never writes to the socket directly except for the error frames
// it marshals into Conn.Send.
type WSHandler struct {
	Hub      *realtime.Hub
	Registry *realtime.Registry
	Presence *presence.Tracker
	Service  *chat.Service
	Logger   *slog.Logger
	Upgrader websocket.Upgrader
}

func NewWSHandler(hub *realtime.Hub, registry *realtime.Registry, tracker *presence.Tracker, service *chat.Service, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		Hub:      hub,
		Registry: registry,
		Presence: tracker,
		Service:  service,
		Logger:   logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Auth is the bearer token, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) Handle(c *gin.Context) {
	principal, ok := requireAuth(c)
	if !ok {
		return
	}
	sock, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "user_id", principal.ID, "error", err)
		}
		return
	}

	conn := realtime.NewConn(principal.ID, sock)
	h.Registry.Register(conn)
	h.Presence.MarkOnline(principal.ID)
	if h.Logger != nil {
		h.Logger.Info("websocket connected", "user_id", principal.ID, "conn_id", conn.ID)
	}

	defer func() {
		h.Registry.Unregister(conn)
		h.Presence.MarkOffline(principal.ID)
		if h.Logger != nil {
			h.Logger.Info("websocket disconnected", "user_id", principal.ID, "conn_id", conn.ID)
		}
	}()

	sock.SetReadLimit(readLimit)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		h.Presence.Touch(principal.ID)
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.readLoop(c, conn, sock)
}

func (h *WSHandler) readLoop(c *gin.Context, conn *realtime.Conn, sock *websocket.Conn) {
	ctx := c.Request.Context()
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && h.Logger != nil {
				h.Logger.Debug("websocket read failed", "user_id", conn.UserID, "error", err)
			}
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(pongWait))
		h.Presence.Touch(conn.UserID)

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(conn, "", "malformed frame")
			continue
		}
		h.dispatch(ctx, conn, frame)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *realtime.Conn, frame clientFrame) {
	switch frame.Type {
	case "SUBSCRIBE":
		if err := h.Hub.Subscribe(ctx, conn, frame.ConversationID); err != nil {
			h.sendError(conn, frame.ConversationID, errorMessage(err))
		}
	case "UNSUBSCRIBE":
		h.Hub.Unsubscribe(conn, frame.ConversationID)
	case string(realtime.EventMessage):
		if _, err := h.Service.Send(ctx, frame.ConversationID, conn.UserID, frame.Payload.Text); err != nil {
			h.sendError(conn, frame.ConversationID, errorMessage(err))
		}
	case string(realtime.EventTyping):
		ev := realtime.Event{
			Type:           realtime.EventTyping,
			ConversationID: frame.ConversationID,
			Payload: realtime.Payload{
				UserID:   conn.UserID,
				IsTyping: frame.Payload.IsTyping,
			},
		}
		if _, err := h.Hub.Publish(ctx, ev, conn); err != nil {
			h.sendError(conn, frame.ConversationID, errorMessage(err))
		}
	case string(realtime.EventRead):
		if err := h.Service.MarkRead(ctx, frame.ConversationID, conn.UserID, frame.Payload.MessageID); err != nil {
			h.sendError(conn, frame.ConversationID, errorMessage(err))
		}
	default:
		h.sendError(conn, frame.ConversationID, "unknown frame type")
	}
}

func (h *WSHandler) sendError(conn *realtime.Conn, conversationID, message string) {
	payload, err := json.Marshal(errorFrame{Type: "ERROR", ConversationID: conversationID, Error: message})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

// errorMessage keeps driver detail off the wire while preserving the
// domain errors clients act on.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, domainchat.ErrNotParticipant),
		errors.Is(err, domainchat.ErrEmptyBody),
		errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrMessageNotFound):
		return err.Error()
	case errors.Is(err, domainchat.ErrStoreTimeout),
		errors.Is(err, domainchat.ErrStoreUnavailable):
		return "storage unavailable"
	default:
		return "internal error"
	}
}
