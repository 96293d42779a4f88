package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventRecord is a domain event awaiting publication. Events are written to
// the outbox in the same flow that produced them and shipped to the broker
// by the Worker, so a broker outage never blocks the message pipeline.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Store persists pending events and hands them out one at a time to
// publishing workers.
type Store interface {
	Add(ctx context.Context, record EventRecord) error
	Claim(ctx context.Context, workerID string) (*EventDocument, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

// Appender adapts a Store to the chat service's outbox port.
type Appender struct {
	Store Store
}

func (a Appender) Append(ctx context.Context, name, aggregateID string, payload []byte) error {
	return a.Store.Add(ctx, EventRecord{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
		Aggregate:  aggregateID,
		Headers:    map[string]string{},
	})
}
