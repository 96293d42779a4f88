package memory

import (
	"context"
	"sync"
	"time"
)

// LastSeenStore keeps last-seen timestamps in memory.
type LastSeenStore struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewLastSeenStore() *LastSeenStore {
	return &LastSeenStore{seen: make(map[string]time.Time)}
}

func (s *LastSeenStore) RecordLastSeen(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.seen[userID]; ok && current.After(at) {
		return nil
	}
	s.seen[userID] = at.UTC()
	return nil
}

func (s *LastSeenStore) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seen[userID], nil
}
