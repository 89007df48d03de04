// Package redis stores sessions in Redis as JSON documents whose key TTL
// tracks the session expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LabShare/services/internal/models"
	"github.com/LabShare/services/internal/store"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps connectivity failures from the Redis client.
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultKeyPrefix = "labshare:session:"

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore on top of Redis.
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
}

// record is the JSON document stored under each session key.
type record struct {
	SessionID  uuid.UUID    `json:"session_id"`
	User       *models.User `json:"user,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	LastUsedAt time.Time    `json:"last_used_at"`
	UserAgent  string       `json:"user_agent,omitempty"`
	IPAddress  string       `json:"ip_address,omitempty"`
}

// NewSessionStore creates a Redis-backed session store.
// An empty prefix selects the default key prefix.
func NewSessionStore(client goredis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) key(sessionID uuid.UUID) string {
	return s.prefix + sessionID.String()
}

// Get retrieves a session by ID.
// Redis evicts expired keys, so an expired session usually reports ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	session := &models.Session{
		SessionID:  rec.SessionID,
		User:       rec.User,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		LastUsedAt: rec.LastUsedAt,
		UserAgent:  rec.UserAgent,
		IPAddress:  rec.IPAddress,
	}

	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return session, nil
}

// Save creates or replaces a session, setting the key TTL to the time left before expiry.
func (s *SessionStore) Save(ctx context.Context, session *models.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		if err := s.client.Del(ctx, s.key(session.SessionID)).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
		return nil
	}

	data, err := json.Marshal(record{
		SessionID:  session.SessionID,
		User:       session.User,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		LastUsedAt: session.LastUsedAt,
		UserAgent:  session.UserAgent,
		IPAddress:  session.IPAddress,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(session.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	return nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires session keys on its own.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}
