package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/tokens"
	"github.com/als-computing/splash-server/internal/users"
	"github.com/als-computing/splash-server/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextUser   = "user"
	ContextClaims = "claims"
)

// TokenParser verifies a raw access token
type TokenParser interface {
	Parse(token string) (*tokens.Claims, error)
}

// UserLoader resolves the token subject to a stored user
type UserLoader interface {
	InsecureGetUser(ctx context.Context, uid string) (*users.User, error)
}

// AuthMiddleware returns a Gin middleware that verifies Bearer access tokens
// and loads the user they were issued to. rev may be nil.
func AuthMiddleware(parser TokenParser, rev tokens.Revocations, loader UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		// Expect 'Bearer <token>'
		var raw string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &raw); n != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		claims, err := parser.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if rev != nil {
			revoked, err := rev.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logger.Errorf("revocation lookup failed: %v", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token check unavailable"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
				return
			}
		}

		user, err := loader.InsecureGetUser(c.Request.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, service.ErrObjectNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
				return
			}
			logger.Errorf("loading user %s: %v", claims.Subject, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			return
		}
		if user.IsDisabled() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set(ContextClaims, claims)
		c.Set(ContextUser, user)
		c.Next()
	}
}

// CurrentUser returns the user set by AuthMiddleware, or nil.
func CurrentUser(c *gin.Context) *users.User {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	u, _ := v.(*users.User)
	return u
}

// CurrentClaims returns the verified token claims, or nil.
func CurrentClaims(c *gin.Context) *tokens.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	cl, _ := v.(*tokens.Claims)
	return cl
}
