package commands

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/LabShare/services/internal/auth"
	httpmiddleware "github.com/LabShare/services/internal/http"
	"github.com/LabShare/services/internal/session"
	"github.com/LabShare/services/internal/store"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type handlerConfig struct {
	Sessions      store.SessionStore
	Lookup        auth.Lookup
	SessionTTL    time.Duration
	SecureCookies bool
	CORSOrigins   []string
	Tracing       bool
}

// newHandler assembles the request pipeline:
// CORS, client IP, request logging, session, auth-token resolution, routes.
func newHandler(log zerolog.Logger, cfg handlerConfig) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /me", auth.RequireUser()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, auth.UserFromContext(r.Context()))
	})))

	mux.HandleFunc("DELETE /session", logoutHandler(cfg.Sessions))

	var handler http.Handler = httpmiddleware.Chain(mux,
		withCORS(cfg.CORSOrigins),
		httpmiddleware.ClientIPMiddleware(),
		httpmiddleware.RequestLogger(log),
		session.Middleware(session.Config{
			Store:  cfg.Sessions,
			TTL:    cfg.SessionTTL,
			Secure: cfg.SecureCookies,
		}),
		auth.Restrict(cfg.Lookup),
	)

	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "labshare-services")
	}

	return handler
}

// logoutHandler forgets the current session, including any cached user.
func logoutHandler(sessions store.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if ok {
			err := sessions.Delete(r.Context(), sess.SessionID)
			if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to delete session")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			// a user resolved on this request must not resurrect the session
			sess.ClearModified()
		}

		http.SetCookie(w, &http.Cookie{
			Name:     session.DefaultCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// withCORS allows browser clients on the configured origins to send the auth-token header.
func withCORS(allowedOrigins []string) httpmiddleware.Middleware {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", auth.TokenHeader},
		AllowCredentials: true, // Required for cookie-based sessions
	})
	return middleware.Handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
