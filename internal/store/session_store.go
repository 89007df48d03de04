package store

import (
	"context"
	"errors"

	"github.com/LabShare/services/internal/models"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// SessionStore persists sessions for the session middleware.
type SessionStore interface {
	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if it does not exist and ErrSessionExpired if it has expired.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// Save creates or replaces a session.
	Save(ctx context.Context, session *models.Session) error

	// Delete deletes a session by ID (logout).
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteExpired deletes all expired sessions and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)
}
