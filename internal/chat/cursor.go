package chat

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	domainchat "pingme/internal/domain/chat"
)

// Cursor pins a position in a conversation's (created_at, id) descending
// order. Ties on the timestamp are broken by the identifier so the order
// stays total even when timestamps collide.
type Cursor struct {
	CreatedAt time.Time
	MessageID int64
}

// encodeCursor renders an opaque, URL-safe token of the form nanos|id.
func encodeCursor(c Cursor) string {
	raw := fmt.Sprintf("%d|%d", c.CreatedAt.UTC().UnixNano(), c.MessageID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a client-supplied token. Anything malformed maps to
// ErrBadCursor; the token contents are never trusted beyond the two fields.
func decodeCursor(token string) (Cursor, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Cursor{}, domainchat.ErrBadCursor
	}
	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return Cursor{}, domainchat.ErrBadCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, domainchat.ErrBadCursor
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, domainchat.ErrBadCursor
	}
	return Cursor{CreatedAt: time.Unix(0, nanos).UTC(), MessageID: id}, nil
}
