package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired     = errors.New("user: id is required")
	ErrHandleRequired = errors.New("user: handle is required")
	ErrHandleTaken    = errors.New("user: handle already used")
	ErrNotFound       = errors.New("user: not found")
)

// User is an authenticated identity. The chat core references users but
// never mutates them; registration and credential management belong to the
// auth collaborator, which owns the credential hash.
type User struct {
	ID             string
	Handle         string
	CredentialHash string
	CreatedAt      time.Time
	LastSeenAt     time.Time
}

type Repository interface {
	ByID(ctx context.Context, id string) (*User, error)
	ByHandle(ctx context.Context, handle string) (*User, error)
	Save(ctx context.Context, u *User) error
}

type CreateParams struct {
	ID             string
	Handle         string
	CredentialHash string
	CreatedAt      time.Time
}

func New(params CreateParams) (*User, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, ErrIDRequired
	}
	handle := NormalizeHandle(params.Handle)
	if handle == "" {
		return nil, ErrHandleRequired
	}
	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &User{
		ID:             id,
		Handle:         handle,
		CredentialHash: params.CredentialHash,
		CreatedAt:      now.UTC(),
	}, nil
}

func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
