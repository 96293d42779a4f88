// Package redisstore backs presence and session lookups with Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pingme/internal/auth"
)

func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// LastSeenStore persists last-seen timestamps under
// presence:last_seen:<user>. Values survive restarts; a missing key reads
// as the zero time.
type LastSeenStore struct {
	rdb *redis.Client
}

func NewLastSeenStore(rdb *redis.Client) *LastSeenStore {
	return &LastSeenStore{rdb: rdb}
}

func lastSeenKey(userID string) string {
	return "presence:last_seen:" + userID
}

func (s *LastSeenStore) RecordLastSeen(ctx context.Context, userID string, at time.Time) error {
	return s.rdb.Set(ctx, lastSeenKey(userID), at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (s *LastSeenStore) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	raw, err := s.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// SessionResolver resolves bearer tokens from session:<token> keys written
// by the identity service. Key TTL is the session lifetime, so expiry needs
// no extra bookkeeping here.
type SessionResolver struct {
	rdb *redis.Client
}

func NewSessionResolver(rdb *redis.Client) *SessionResolver {
	return &SessionResolver{rdb: rdb}
}

func (r *SessionResolver) Resolve(ctx context.Context, token string) (string, error) {
	userID, err := r.rdb.Get(ctx, "session:"+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", auth.ErrInvalidToken
		}
		return "", err
	}
	return userID, nil
}
