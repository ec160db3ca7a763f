// Package middleware provides gin middleware for the loopback server.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/growgrammers/authflow/internal/auth/nav"
)

// Authenticator reports whether the agent holds a valid session.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
}

// RequireSession guards protected routes. Browsers are redirected to the login screen and
// API clients get 401.
func RequireSession(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.IsAuthenticated(c.Request.Context()) {
			c.Next()
			return
		}
		if WantsJSON(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "not authenticated"})
			return
		}
		c.Redirect(http.StatusFound, nav.Login.String())
		c.Abort()
	}
}

// WantsJSON reports whether the client prefers a JSON answer over an HTML page.
func WantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}
