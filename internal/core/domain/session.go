package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("domain: not found")

// Session holds everything one user accumulates across turns. Nothing here is shared
// between sessions.
type Session struct {
	ID             string              `json:"id"`
	Context        ConversationContext `json:"context"`
	History        History             `json:"history"`
	ActiveDeviceID string              `json:"active_device_id,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewSession returns an empty session for id.
func NewSession(id string) Session {
	return Session{ID: id}
}

// Credential authorizes a single provider call.
type Credential struct {
	AccessToken string
}

// Valid reports whether the credential carries a token at all.
func (c Credential) Valid() bool {
	return c.AccessToken != ""
}

// Token is the persisted OAuth token of a session.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
