package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

// ErrConnClosed is returned by Send once the connection has shut down.
var ErrConnClosed = errors.New("realtime: connection closed")

// Socket is the write side of a websocket. *websocket.Conn satisfies it;
// tests substitute an in-memory fake.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn wraps one client socket and serializes outbound writes through a
// buffered channel drained by a single writer goroutine, preserving
// per-connection event order without shared iteration state.
type Conn struct {
	ID     string
	UserID string

	sock  Socket
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

// NewConn constructs a Conn for the given user.
func NewConn(userID string, sock Socket) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		sock:   sock,
		send:   make(chan []byte, sendBuffer),
		close:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Call exactly once per connection.
func (c *Conn) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery. A full buffer means the client cannot
// keep up; the connection is closed so backpressure stays bounded.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.close:
		return ErrConnClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrConnClosed
	}
}

// Close terminates the connection and stops the writer goroutine.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.sock.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeMessage(payload []byte) error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) writePing() error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.PingMessage, nil)
}
