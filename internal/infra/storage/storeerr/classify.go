// Package storeerr folds driver-specific failures into the chat error
// taxonomy so transport code never inspects gocql or mongo errors directly.
package storeerr

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gocql/gocql"
	"go.mongodb.org/mongo-driver/mongo"

	domainchat "pingme/internal/domain/chat"
)

// Classify maps a storage driver error onto the chat taxonomy. Domain
// errors pass through untouched; timeouts become ErrStoreTimeout,
// connectivity failures become ErrStoreUnavailable, and anything else is
// returned as-is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", domainchat.ErrStoreTimeout, err)
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %v", domainchat.ErrStoreUnavailable, err)
	}
	return err
}

func isDomain(err error) bool {
	for _, sentinel := range []error{
		domainchat.ErrNotParticipant,
		domainchat.ErrEmptyBody,
		domainchat.ErrBadLimit,
		domainchat.ErrBadCursor,
		domainchat.ErrSelfConversation,
		domainchat.ErrConversationNotFound,
		domainchat.ErrMessageNotFound,
		domainchat.ErrStoreTimeout,
		domainchat.ErrStoreUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gocql.ErrTimeoutNoResponse) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return mongo.IsTimeout(err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, gocql.ErrNoConnections) || errors.Is(err, gocql.ErrConnectionClosed) {
		return true
	}
	if mongo.IsNetworkError(err) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
