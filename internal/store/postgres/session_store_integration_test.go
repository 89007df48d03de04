//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/LabShare/services/internal/models"
	"github.com/LabShare/services/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*SessionStore, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString:  fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		AutoMigrate: true,
	})
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return NewSessionStore(pool), cleanup
}

func newSession(t *testing.T, ttl time.Duration) *models.Session {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Session{
		SessionID:  id,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
		UserAgent:  "integration-test",
		IPAddress:  "203.0.113.7",
	}
}

func TestIntegration_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	t.Run("save and get anonymous session", func(t *testing.T) {
		session := newSession(t, time.Hour)
		require.NoError(t, st.Save(ctx, session))

		got, err := st.Get(ctx, session.SessionID)
		require.NoError(t, err)
		require.Nil(t, got.User)
		require.Equal(t, "203.0.113.7", got.IPAddress)
		require.Equal(t, "integration-test", got.UserAgent)
	})

	t.Run("upsert attaches user", func(t *testing.T) {
		session := newSession(t, time.Hour)
		require.NoError(t, st.Save(ctx, session))

		session.SetUser(&models.User{ID: "user-1", Email: "jane@example.com", Roles: []string{"admin"}})
		require.NoError(t, st.Save(ctx, session))

		got, err := st.Get(ctx, session.SessionID)
		require.NoError(t, err)
		require.NotNil(t, got.User)
		require.Equal(t, "user-1", got.User.ID)
		require.Equal(t, []string{"admin"}, got.User.Roles)
	})

	t.Run("unparseable client address stored as null", func(t *testing.T) {
		session := newSession(t, time.Hour)
		session.IPAddress = "not-an-ip"
		require.NoError(t, st.Save(ctx, session))

		got, err := st.Get(ctx, session.SessionID)
		require.NoError(t, err)
		require.Empty(t, got.IPAddress)
	})

	t.Run("missing and expired sessions", func(t *testing.T) {
		_, err := st.Get(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrSessionNotFound)

		expired := newSession(t, -time.Minute)
		require.NoError(t, st.Save(ctx, expired))

		_, err = st.Get(ctx, expired.SessionID)
		require.ErrorIs(t, err, store.ErrSessionExpired)

		count, err := st.DeleteExpired(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, count, 1)
	})

	t.Run("delete", func(t *testing.T) {
		session := newSession(t, time.Hour)
		require.NoError(t, st.Save(ctx, session))

		require.NoError(t, st.Delete(ctx, session.SessionID))
		require.ErrorIs(t, st.Delete(ctx, session.SessionID), store.ErrSessionNotFound)
	})
}
