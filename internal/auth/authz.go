package auth

import (
	"net/http"
	"slices"

	"github.com/LabShare/services/internal/models"
)

// HasRole reports whether the user carries any of the given roles.
func HasRole(user *models.User, roles ...string) bool {
	if user == nil {
		return false
	}
	for _, role := range roles {
		if slices.Contains(user.Roles, role) {
			return true
		}
	}
	return false
}

// RequireUser rejects requests that Restrict did not attach a user to.
// It is mounted on routes where anonymous access is not allowed.
func RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromContext(r.Context()) == nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows users holding at least one of roles. Anonymous requests
// get a 401, authenticated users without a role get a 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if !HasRole(user, roles...) {
				writeJSONError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
