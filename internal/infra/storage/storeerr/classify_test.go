package storeerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/gocql/gocql"
	"go.mongodb.org/mongo-driver/mongo"

	domainchat "pingme/internal/domain/chat"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "context deadline becomes timeout",
			err:  fmt.Errorf("insert message: %w", context.DeadlineExceeded),
			want: domainchat.ErrStoreTimeout,
		},
		{
			name: "gocql timeout becomes timeout",
			err:  gocql.ErrTimeoutNoResponse,
			want: domainchat.ErrStoreTimeout,
		},
		{
			name: "net timeout becomes timeout",
			err:  fmt.Errorf("read receipts: %w", timeoutNetError{}),
			want: domainchat.ErrStoreTimeout,
		},
		{
			name: "mongo max-time expiry becomes timeout",
			err:  mongo.CommandError{Code: 50, Name: "MaxTimeMSExpired", Message: "operation exceeded time limit"},
			want: domainchat.ErrStoreTimeout,
		},
		{
			name: "gocql no connections becomes unavailable",
			err:  gocql.ErrNoConnections,
			want: domainchat.ErrStoreUnavailable,
		},
		{
			name: "gocql closed connection becomes unavailable",
			err:  gocql.ErrConnectionClosed,
			want: domainchat.ErrStoreUnavailable,
		},
		{
			name: "dial failure becomes unavailable",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			want: domainchat.ErrStoreUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyPassesDomainAndUnknownErrorsThrough(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Fatalf("Classify(nil) = %v", got)
	}

	wrapped := fmt.Errorf("load conversation: %w", domainchat.ErrConversationNotFound)
	if got := Classify(wrapped); got != wrapped {
		t.Fatalf("domain error rewritten: %v", got)
	}

	// an already-classified error must not be wrapped a second time
	classified := Classify(context.DeadlineExceeded)
	if got := Classify(classified); got != classified {
		t.Fatalf("double classification: %v", got)
	}

	plain := errors.New("malformed row")
	if got := Classify(plain); got != plain {
		t.Fatalf("unknown error rewritten: %v", got)
	}
}

var _ net.Error = timeoutNetError{}
