package chat

import (
	"errors"
	"testing"
	"time"

	domainchat "pingme/internal/domain/chat"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC), MessageID: 42}
	out, err := decodeCursor(encodeCursor(in))
	if err != nil {
		t.Fatalf("decodeCursor: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.MessageID != in.MessageID {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeCursorRejectsMalformedTokens(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%"},
		{"no separator", "MTIzNDU"},
		{"bad nanos", "eHw0Mg"},    // "x|42"
		{"bad id", "MTIzfGFiYw"},   // "123|abc"
		{"extra field", "MXwyfDM"}, // "1|2|3"
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeCursor(tc.token); !errors.Is(err, domainchat.ErrBadCursor) {
				t.Fatalf("decodeCursor(%q) = %v, want ErrBadCursor", tc.token, err)
			}
		})
	}
}

func TestConversationLockStripesAreStable(t *testing.T) {
	var locks conversationLocks
	unlock := locks.lock("conv-1")
	done := make(chan struct{})
	go func() {
		innerUnlock := locks.lock("conv-1")
		innerUnlock()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock never released")
	}
}
