package wavelet

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Core data model
// ============================================================================

// MessageID identifies a message. Server-assigned IDs are positive and
// monotonically increasing; locally synthesized optimistic IDs are negative,
// so the two spaces can never collide.
type MessageID int64

// IsLocal reports whether the ID was synthesized client-side and has not
// yet been confirmed by the server.
func (id MessageID) IsLocal() bool { return id < 0 }

// Message is a single chat message. The server owns the authoritative copy;
// the Synchronizer holds a cached, possibly stale one.
type Message struct {
	ID        MessageID `json:"id"`
	RoomID    string    `json:"room_id"`
	Author    string    `json:"username"`
	AuthorID  string    `json:"user_id,omitempty"` // absent for legacy/anonymous rows
	Body      string    `json:"body"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ClientKey string    `json:"client_key,omitempty"`
}

// Before reports whether m sorts before other in the canonical total order:
// ascending created_at, ties broken by ascending ID.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// MessageDraft is the client-side payload for an insert. The server assigns
// ID and CreatedAt. ClientKey is a caller-generated idempotency key.
type MessageDraft struct {
	RoomID    string `json:"room_id"`
	Author    string `json:"username"`
	AuthorID  string `json:"user_id,omitempty"`
	Body      string `json:"body"`
	AvatarURL string `json:"avatar_url,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
}

// RoomKind distinguishes named group channels from derived pairwise ones.
type RoomKind string

const (
	RoomGroup    RoomKind = "group"
	RoomPairwise RoomKind = "pairwise"
)

// Room is a chat channel. The ID of a group room is its normalized name;
// the ID of a pairwise room encodes both participants (see room.go).
type Room struct {
	ID   string   `json:"id"`
	Kind RoomKind `json:"kind"`
}

// User is the authenticated identity attached to a Session.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Session is the live authentication state. Exactly one per running client,
// created at sign-in and destroyed at sign-out.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// ProfileUpdate names the mutable profile fields. Nil fields are left as-is.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// ============================================================================
// Error taxonomy
// ============================================================================

// ErrNotFound is returned by the gateway when an edit or delete targets a
// row that no longer exists. Callers that wanted the row gone treat it as
// success.
var ErrNotFound = errors.New("wavelet: not found")

// ErrNoActiveRoom is returned by synchronizer mutations issued while Idle.
var ErrNoActiveRoom = errors.New("wavelet: no active room")

// InvalidNameError reports a room name or participant identity that fails
// local validation. It never reaches the network.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

// AuthError is a failure surfaced by the authentication endpoint.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth: %s (HTTP %d)", e.Message, e.Status)
}

// WriteError is a failed data-store write. The synchronizer rolls back the
// optimistic mutation before surfacing it.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }
