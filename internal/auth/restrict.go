package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/LabShare/services/internal/session"
	"github.com/LabShare/services/internal/telemetry"
	"github.com/rs/zerolog"
)

// TokenHeader carries the token resolved by the lookup.
const TokenHeader = "auth-token"

type restrictOptions struct {
	header  string
	metrics *telemetry.Metrics
}

// RestrictOption configures Restrict.
type RestrictOption func(*restrictOptions)

// WithTokenHeader reads the token from a different header.
func WithTokenHeader(name string) RestrictOption {
	return func(o *restrictOptions) {
		o.header = name
	}
}

// WithMetrics records results on m instead of the global instruments.
func WithMetrics(m *telemetry.Metrics) RestrictOption {
	return func(o *restrictOptions) {
		o.metrics = m
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Restrict returns a middleware which resolves the auth-token header to a user.
//
// Requests without a token pass through anonymously. A user already cached on
// the session is reused without calling the lookup. Otherwise the lookup is
// called once: on success the user is cached on the session and attached to the
// request context, an INVALID_RESPONSE failure is answered with a 401 and a JSON
// error message, and any other failure with an empty 401.
func Restrict(lookup Lookup, opts ...RestrictOption) func(http.Handler) http.Handler {
	if lookup == nil {
		panic("auth: nil lookup")
	}

	o := &restrictOptions{header: TokenHeader}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			metrics := o.metrics
			if metrics == nil {
				metrics = telemetry.GetMetrics()
			}

			token := r.Header.Get(o.header)
			if token == "" {
				metrics.AuthRequestsTotal.Add(ctx, 1, telemetry.ResultAttr(telemetry.AuthResultAnonymous))
				next.ServeHTTP(w, r)
				return
			}

			sess, hasSession := session.FromContext(ctx)
			if hasSession && sess.User != nil {
				metrics.AuthRequestsTotal.Add(ctx, 1, telemetry.ResultAttr(telemetry.AuthResultCached))
				next.ServeHTTP(w, r.WithContext(WithUser(ctx, sess.User)))
				return
			}

			logger := zerolog.Ctx(ctx)

			// the client going away must not abandon a lookup in flight
			started := time.Now()
			user, err := lookup.AuthenticateUser(context.WithoutCancel(ctx), token)
			metrics.AuthLookupsTotal.Add(ctx, 1)
			metrics.AuthLookupDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

			if err == nil && user == nil {
				err = ErrNoUser
			}

			if err != nil {
				if lerr, ok := AsInvalidResponse(err); ok {
					logger.Debug().Err(err).Msg("Auth: invalid token")
					metrics.AuthRequestsTotal.Add(ctx, 1, telemetry.ResultAttr(telemetry.AuthResultInvalid))
					writeJSONError(w, http.StatusUnauthorized, lerr.Message)
					return
				}

				logger.Warn().Err(err).Msg("Auth: user lookup failed")
				metrics.AuthRequestsTotal.Add(ctx, 1, telemetry.ResultAttr(telemetry.AuthResultFailed))
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			if hasSession {
				sess.SetUser(user)
			}

			logger.Debug().Str("user_id", user.ID).Msg("Auth: authenticated")
			metrics.AuthRequestsTotal.Add(ctx, 1, telemetry.ResultAttr(telemetry.AuthResultAuthenticated))

			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}
