// Package session loads a server-side session for every request and persists it
// when a downstream handler changes it. Only the session ID travels in the cookie.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	httpmiddleware "github.com/LabShare/services/internal/http"
	"github.com/LabShare/services/internal/models"
	"github.com/LabShare/services/internal/store"
	"github.com/LabShare/services/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultCookieName = "_session"
	DefaultTTL        = 24 * time.Hour
)

type contextKey struct{}

// WithSession returns a context carrying the session.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (*models.Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*models.Session)
	return sess, ok && sess != nil
}

// Config configures the session middleware.
type Config struct {
	Store      store.SessionStore
	TTL        time.Duration
	CookieName string
	// Secure marks the cookie HTTPS only.
	Secure bool
}

// Middleware attaches a session to every request. Existing sessions are loaded
// from the store using the cookie, otherwise a fresh unsaved session is created.
// Modified sessions are saved before the response header is sent, and new ones
// get their cookie at the same time.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, isNew := load(r, cfg)

			cw := &commitWriter{
				ResponseWriter: w,
				req:            r,
				cfg:            cfg,
				sess:           sess,
				isNew:          isNew,
			}

			next.ServeHTTP(cw, r.WithContext(WithSession(r.Context(), sess)))

			// the handler may have returned without writing
			cw.commit()
			if sess.Modified() {
				// changed after the header went out, persist without a cookie
				cw.save()
			}
		})
	}
}

func load(r *http.Request, cfg Config) (*models.Session, bool) {
	logger := zerolog.Ctx(r.Context())

	if cookie, err := r.Cookie(cfg.CookieName); err == nil && cookie.Value != "" {
		id, err := uuid.Parse(cookie.Value)
		if err != nil {
			logger.Debug().Msg("Invalid session cookie, starting new session")
		} else {
			sess, err := cfg.Store.Get(r.Context(), id)
			switch {
			case err == nil:
				sess.LastUsedAt = time.Now()
				return sess, false
			case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
				logger.Debug().Err(err).Str("session_id", id.String()).Msg("Session not loaded, starting new session")
			default:
				logger.Error().Err(err).Str("session_id", id.String()).Msg("Failed to load session, starting new session")
			}
		}
	}

	return newSession(r, cfg.TTL), true
}

func newSession(r *http.Request, ttl time.Duration) *models.Session {
	now := time.Now()

	ip := httpmiddleware.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = httpmiddleware.ExtractClientIP(r)
	}

	return &models.Session{
		SessionID:  uuid.Must(uuid.NewV7()),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
		UserAgent:  r.UserAgent(),
		IPAddress:  ip,
	}
}

// commitWriter saves a modified session just before the response header is written.
type commitWriter struct {
	http.ResponseWriter
	req   *http.Request
	cfg   Config
	sess  *models.Session
	isNew bool

	once sync.Once
}

func (c *commitWriter) commit() {
	c.once.Do(func() {
		if !c.sess.Modified() {
			return
		}
		if !c.save() {
			return
		}
		if c.isNew {
			http.SetCookie(c.ResponseWriter, &http.Cookie{
				Name:     c.cfg.CookieName,
				Value:    c.sess.SessionID.String(),
				Path:     "/",
				HttpOnly: true,
				Secure:   c.cfg.Secure,
				SameSite: http.SameSiteLaxMode,
				Expires:  c.sess.ExpiresAt,
			})
		}
	})
}

func (c *commitWriter) save() bool {
	ctx := context.WithoutCancel(c.req.Context())
	if err := c.cfg.Store.Save(ctx, c.sess); err != nil {
		telemetry.GetMetrics().SessionSaveErrorsTotal.Add(ctx, 1)
		zerolog.Ctx(c.req.Context()).Error().Err(err).
			Str("session_id", c.sess.SessionID.String()).
			Msg("Failed to save session")
		return false
	}
	c.sess.ClearModified()
	telemetry.GetMetrics().SessionsSavedTotal.Add(ctx, 1)
	return true
}

func (c *commitWriter) WriteHeader(code int) {
	c.commit()
	c.ResponseWriter.WriteHeader(code)
}

func (c *commitWriter) Write(b []byte) (int, error) {
	c.commit()
	return c.ResponseWriter.Write(b)
}

func (c *commitWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
