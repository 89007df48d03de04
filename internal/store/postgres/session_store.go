package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/LabShare/services/internal/models"
	"github.com/LabShare/services/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using PostgreSQL.
// The resolved user is stored as JSONB alongside the session metadata.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{
		pool: pool,
	}
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `
		SELECT
			session_id, user_data,
			created_at, expires_at, last_used_at,
			user_agent, COALESCE(host(ip_address), '')
		FROM sessions
		WHERE session_id = $1
	`

	var (
		session  models.Session
		userData []byte
	)
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&userData,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LastUsedAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", mapPostgresError(err))
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	if len(userData) > 0 {
		var user models.User
		if err := json.Unmarshal(userData, &user); err != nil {
			return nil, fmt.Errorf("failed to decode session user: %w", err)
		}
		session.User = &user
	}

	return &session, nil
}

// Save creates or replaces a session.
func (s *SessionStore) Save(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, user_data,
			created_at, expires_at, last_used_at,
			user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::inet
		)
		ON CONFLICT (session_id) DO UPDATE SET
			user_data    = EXCLUDED.user_data,
			expires_at   = EXCLUDED.expires_at,
			last_used_at = EXCLUDED.last_used_at
	`

	var userData []byte
	if session.User != nil {
		data, err := json.Marshal(session.User)
		if err != nil {
			return fmt.Errorf("failed to encode session user: %w", err)
		}
		userData = data
	}

	_, err := s.pool.Exec(ctx, query,
		session.SessionID,
		userData,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastUsedAt,
		session.UserAgent,
		inetValue(session.IPAddress),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Bool("has_user", session.User != nil).
		Msg("Saved session")

	return nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", mapPostgresError(err))
	}

	return int(result.RowsAffected()), nil
}

// inetValue converts a client address into something the INET column accepts.
// Unparseable addresses are stored as NULL.
func inetValue(ip string) any {
	addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
	if err != nil {
		return nil
	}
	return addr.String()
}
