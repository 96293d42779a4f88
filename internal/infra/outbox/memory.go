package outbox

import (
	"context"
	"sync"
	"time"
)

// MemoryStore backs the dev storage mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs []*EventDocument
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Add(ctx context.Context, record EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, &EventDocument{
		ID:          record.ID,
		Name:        record.Name,
		Payload:     record.Payload,
		OccurredAt:  record.OccurredAt,
		Aggregate:   record.Aggregate,
		Headers:     record.Headers,
		State:       stateNew,
		NextAttempt: time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.docs {
		if doc.State != stateNew && doc.State != stateFailed {
			continue
		}
		if doc.NextAttempt.After(now) {
			continue
		}
		doc.State = stateClaimed
		doc.ClaimedBy = workerID
		doc.ClaimedAt = now
		out := *doc
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc := s.find(id); doc != nil {
		doc.State = stateSent
		doc.SentAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc := s.find(id); doc != nil {
		doc.State = stateFailed
		doc.NextAttempt = next
		doc.LastError = errMsg
		doc.Attempts++
	}
	return nil
}

// Pending reports how many events still await publication. Test helper.
func (s *MemoryStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, doc := range s.docs {
		if doc.State != stateSent {
			n++
		}
	}
	return n
}

func (s *MemoryStore) find(id string) *EventDocument {
	for _, doc := range s.docs {
		if doc.ID == id {
			return doc
		}
	}
	return nil
}
