package auth

import (
	"net/http"

	"github.com/LabShare/services/internal/models"
	"github.com/gin-gonic/gin"
)

// Gin adapts a net/http middleware such as Restrict to a gin handler. When the
// middleware responds without calling its next handler the gin chain is aborted.
func Gin(middleware func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
		}
	}
}

// GinUser returns the user attached by Restrict to a gin request.
func GinUser(c *gin.Context) *models.User {
	return UserFromContext(c.Request.Context())
}
