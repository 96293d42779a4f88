package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a user stays online without any keepalive.
	DefaultTTL = 60 * time.Second
	// DefaultSweepInterval is how often the background sweep checks TTLs.
	DefaultSweepInterval = 10 * time.Second
)

// LastSeenStore persists last-seen timestamps across restarts. Failures are
// tolerated: presence is best-effort, not safety-critical.
type LastSeenStore interface {
	RecordLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (time.Time, error)
}

// Change describes one presence transition.
type Change struct {
	UserID   string
	Online   bool
	LastSeen time.Time
}

// Tracker maintains online state per user. Offline -> Online on the first
// connection; Online -> Offline when the last connection goes away or no
// activity arrives within the TTL window. Each offline transition fires
// exactly once.
type Tracker struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Store         LastSeenStore
	Logger        *slog.Logger
	OnChange      func(Change)

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	conns        int
	online       bool
	lastActivity time.Time
	lastSeen     time.Time
}

// NewTracker constructs a Tracker with defaults applied.
func NewTracker(store LastSeenStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		TTL:           DefaultTTL,
		SweepInterval: DefaultSweepInterval,
		Store:         store,
		Logger:        logger,
		entries:       make(map[string]*entry),
	}
}

// MarkOnline records a new connection for the user, transitioning to Online
// on the first one.
func (t *Tracker) MarkOnline(userID string) {
	now := time.Now()

	t.mu.Lock()
	e := t.entries[userID]
	if e == nil {
		e = &entry{}
		t.entries[userID] = e
	}
	e.conns++
	e.lastActivity = now
	transitioned := !e.online
	e.online = true
	t.mu.Unlock()

	if transitioned {
		t.notify(Change{UserID: userID, Online: true, LastSeen: now.UTC()})
	}
}

// MarkOffline records a closed connection. The user transitions to Offline
// only when their last connection is gone.
func (t *Tracker) MarkOffline(userID string) {
	now := time.Now()

	t.mu.Lock()
	e := t.entries[userID]
	if e == nil {
		t.mu.Unlock()
		return
	}
	if e.conns > 0 {
		e.conns--
	}
	var transitioned bool
	if e.conns == 0 && e.online {
		e.online = false
		e.lastSeen = now
		transitioned = true
	}
	t.mu.Unlock()

	if transitioned {
		t.persistAndNotify(userID, now)
	}
}

// Touch refreshes the TTL window. Any inbound frame or pong counts as
// keepalive activity.
func (t *Tracker) Touch(userID string) {
	t.mu.Lock()
	if e := t.entries[userID]; e != nil {
		e.lastActivity = time.Now()
	}
	t.mu.Unlock()
}

// IsOnline reports the current in-memory presence state.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[userID]
	return e != nil && e.online
}

// LastSeen returns the most recent offline timestamp, falling back to the
// persisted store for users this process has not tracked.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	t.mu.Lock()
	if e := t.entries[userID]; e != nil && !e.lastSeen.IsZero() {
		last := e.lastSeen
		t.mu.Unlock()
		return last.UTC(), nil
	}
	t.mu.Unlock()

	if t.Store == nil {
		return time.Time{}, nil
	}
	return t.Store.LastSeen(ctx, userID)
}

// Run sweeps TTL-expired entries until the context is canceled. The sweep
// runs off the connection-handling path and never blocks delivery.
func (t *Tracker) Run(ctx context.Context) error {
	interval := t.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.sweep(time.Now())
		}
	}
}

func (t *Tracker) sweep(now time.Time) {
	ttl := t.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cutoff := now.Add(-ttl)

	var expired []string
	t.mu.Lock()
	for userID, e := range t.entries {
		if e.online && e.lastActivity.Before(cutoff) {
			e.online = false
			e.conns = 0
			e.lastSeen = e.lastActivity
			expired = append(expired, userID)
		}
	}
	t.mu.Unlock()

	for _, userID := range expired {
		t.mu.Lock()
		last := t.entries[userID].lastSeen
		t.mu.Unlock()
		t.persistAndNotify(userID, last)
	}
}

func (t *Tracker) persistAndNotify(userID string, lastSeen time.Time) {
	if t.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := t.Store.RecordLastSeen(ctx, userID, lastSeen.UTC()); err != nil && t.Logger != nil {
			t.Logger.Warn("last-seen persist failed", "user_id", userID, "error", err)
		}
		cancel()
	}
	t.notify(Change{UserID: userID, Online: false, LastSeen: lastSeen.UTC()})
}

func (t *Tracker) notify(change Change) {
	if t.OnChange != nil {
		t.OnChange(change)
	}
}
