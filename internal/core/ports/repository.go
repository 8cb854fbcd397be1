package ports

import (
	"context"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
)

// SessionStore persists per-session conversational state.
// Load returns a fresh empty session when id is unknown.
type SessionStore interface {
	Load(ctx context.Context, id string) (domain.Session, error)
	Save(ctx context.Context, s domain.Session) error
}

// TokenStore persists the OAuth token of each session.
// GetToken returns domain.ErrNotFound when the session never logged in.
type TokenStore interface {
	GetToken(ctx context.Context, sessionID string) (domain.Token, error)
	SaveToken(ctx context.Context, sessionID string, tok domain.Token) error
}

// Store is what the storage drivers implement.
type Store interface {
	SessionStore
	TokenStore
	Close() error
}
