package presence

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingStore struct {
	mu       sync.Mutex
	recorded map[string]time.Time
}

func newRecordingStore() *recordingStore {
	return &recordingStore{recorded: make(map[string]time.Time)}
}

func (s *recordingStore) RecordLastSeen(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded[userID] = at
	return nil
}

func (s *recordingStore) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded[userID], nil
}

func collectChanges(t *Tracker) (*[]Change, *sync.Mutex) {
	var mu sync.Mutex
	changes := []Change{}
	t.OnChange = func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}
	return &changes, &mu
}

func TestTrackerOnlineTransitionFiresOnce(t *testing.T) {
	tracker := NewTracker(newRecordingStore(), nil)
	changes, mu := collectChanges(tracker)

	tracker.MarkOnline("alice")
	tracker.MarkOnline("alice") // second device

	if !tracker.IsOnline("alice") {
		t.Fatal("alice must be online")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(*changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(*changes))
	}
	if c := (*changes)[0]; !c.Online || c.UserID != "alice" {
		t.Fatalf("unexpected change %+v", c)
	}
}

func TestTrackerOfflineOnlyAfterLastConnection(t *testing.T) {
	store := newRecordingStore()
	tracker := NewTracker(store, nil)
	changes, mu := collectChanges(tracker)

	tracker.MarkOnline("alice")
	tracker.MarkOnline("alice")
	tracker.MarkOffline("alice")

	if !tracker.IsOnline("alice") {
		t.Fatal("alice must stay online while a connection remains")
	}

	tracker.MarkOffline("alice")
	if tracker.IsOnline("alice") {
		t.Fatal("alice must be offline after the last connection closes")
	}

	mu.Lock()
	offline := 0
	for _, c := range *changes {
		if !c.Online {
			offline++
		}
	}
	mu.Unlock()
	if offline != 1 {
		t.Fatalf("got %d offline transitions, want exactly 1", offline)
	}

	store.mu.Lock()
	_, persisted := store.recorded["alice"]
	store.mu.Unlock()
	if !persisted {
		t.Fatal("offline transition must persist last-seen")
	}
}

func TestTrackerRedundantOfflineIsNoop(t *testing.T) {
	tracker := NewTracker(newRecordingStore(), nil)
	changes, mu := collectChanges(tracker)

	tracker.MarkOffline("ghost")
	tracker.MarkOnline("alice")
	tracker.MarkOffline("alice")
	tracker.MarkOffline("alice")

	mu.Lock()
	defer mu.Unlock()
	offline := 0
	for _, c := range *changes {
		if !c.Online {
			offline++
		}
	}
	if offline != 1 {
		t.Fatalf("got %d offline transitions, want 1", offline)
	}
}

func TestTrackerSweepExpiresIdleUsers(t *testing.T) {
	tracker := NewTracker(newRecordingStore(), nil)
	tracker.TTL = 50 * time.Millisecond
	changes, mu := collectChanges(tracker)

	tracker.MarkOnline("alice")
	tracker.MarkOnline("bob")
	tracker.Touch("bob")

	time.Sleep(60 * time.Millisecond)
	tracker.Touch("bob")
	tracker.sweep(time.Now())

	if tracker.IsOnline("alice") {
		t.Fatal("alice must be swept offline after the TTL")
	}
	if !tracker.IsOnline("bob") {
		t.Fatal("bob refreshed the TTL and must stay online")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, c := range *changes {
		if !c.Online && c.UserID == "bob" {
			t.Fatal("bob must not have an offline transition")
		}
	}
}

func TestTrackerLastSeenFallsBackToStore(t *testing.T) {
	store := newRecordingStore()
	when := time.Now().Add(-time.Hour).UTC()
	_ = store.RecordLastSeen(context.Background(), "carol", when)
	tracker := NewTracker(store, nil)

	got, err := tracker.LastSeen(context.Background(), "carol")
	if err != nil {
		t.Fatalf("LastSeen: %v", err)
	}
	if !got.Equal(when) {
		t.Fatalf("LastSeen = %v, want %v", got, when)
	}
}
