package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a client's server-side session.
// The session ID is stored in an opaque cookie, while all session data lives server-side.
type Session struct {
	SessionID uuid.UUID // UUIDv7 - this is the only value stored in the cookie

	// User is the identity resolved for this session, nil until a lookup succeeds.
	User *User

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string

	modified bool
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SetUser attaches a resolved identity and marks the session for saving.
func (s *Session) SetUser(user *User) {
	s.User = user
	s.modified = true
}

// MarkModified flags the session so the session layer persists it.
func (s *Session) MarkModified() {
	s.modified = true
}

// Modified reports whether the session changed since it was loaded.
func (s *Session) Modified() bool {
	return s.modified
}

// ClearModified resets the modified flag after a successful save.
func (s *Session) ClearModified() {
	s.modified = false
}
