package memory

import (
	"context"
	"sync"

	"pingme/internal/domain/user"
)

// UserRepository is an in-memory implementation for dev mode and tests.
type UserRepository struct {
	mu       sync.RWMutex
	byID     map[string]*user.User
	byHandle map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:     make(map[string]*user.User),
		byHandle: make(map[string]string),
	}
}

func (r *UserRepository) ByID(ctx context.Context, id string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *UserRepository) ByHandle(ctx context.Context, handle string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[user.NormalizeHandle(handle)]
	if !ok {
		return nil, user.ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *UserRepository) Save(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.byHandle[u.Handle]; ok && existingID != u.ID {
		return user.ErrHandleTaken
	}
	if existing, ok := r.byID[u.ID]; ok && existing.Handle != u.Handle {
		delete(r.byHandle, existing.Handle)
	}
	r.byID[u.ID] = cloneUser(u)
	r.byHandle[u.Handle] = u.ID
	return nil
}

func cloneUser(u *user.User) *user.User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}
