package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/als-computing/splash-server/internal/oidc"
	"github.com/als-computing/splash-server/internal/tokens"
	"github.com/als-computing/splash-server/internal/users"
	"github.com/als-computing/splash-server/pkg/logger"
	"github.com/als-computing/splash-server/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// SignInRequest carries the id token issued by the identity provider.
type SignInRequest struct {
	Token string `json:"token" binding:"required"`
}

// SignInResponse is returned by a successful sign-in.
type SignInResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        *users.User `json:"user"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	verifiers   oidc.Providers
	users       *users.Service
	issuer      *tokens.Issuer
	revocations tokens.Revocations
	// Settings is served unauthenticated so clients can start a sign-in.
	Settings gin.H
}

func NewAuthHandler(verifiers oidc.Providers, u *users.Service, iss *tokens.Issuer, rev tokens.Revocations) *AuthHandler {
	return &AuthHandler{verifiers: verifiers, users: u, issuer: iss, revocations: rev, Settings: gin.H{}}
}

// RegisterPublic mounts the routes that need no access token.
func (h *AuthHandler) RegisterPublic(rg *gin.RouterGroup) {
	rg.POST("/idtokensignin", h.SignIn)
	rg.GET("/settings", h.GetSettings)
}

// RegisterProtected mounts the routes behind AuthMiddleware.
func (h *AuthHandler) RegisterProtected(rg *gin.RouterGroup) {
	rg.POST("/logout", h.Logout)
}

// SignIn verifies an id token, finds the registered user by email and
// issues a splash access token.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload", "message": err.Error()})
		return
	}
	provider := c.Query("provider")
	if provider == "" {
		provider = c.Query("auth_provider")
	}
	ver, ok := h.verifiers.Get(provider)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider", "message": "unsupported auth provider"})
		return
	}
	idToken, err := ver.Verify(c.Request.Context(), req.Token)
	if err != nil {
		logger.Debugf("id token rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "id token could not be verified"})
		return
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "failed to parse claims"})
		return
	}

	u, err := h.users.UserFromClaims(c.Request.Context(), claims)
	switch {
	case errors.Is(err, users.ErrEmailNotVerified):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": err.Error()})
		return
	case errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user_not_found", "message": err.Error()})
		return
	case errors.Is(err, users.ErrMultipleUsersAuthenticator):
		logger.Errorf("sign-in: %v", err)
		c.JSON(http.StatusConflict, gin.H{"error": "multiple_users", "message": err.Error()})
		return
	case err != nil:
		respondError(c, err)
		return
	}
	if u.IsDisabled() {
		c.JSON(http.StatusForbidden, gin.H{"error": "user_disabled", "message": "user disabled"})
		return
	}

	access, err := h.issuer.Issue(u.UID)
	if err != nil {
		logger.Errorf("issue access token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to create access token"})
		return
	}
	c.JSON(http.StatusOK, SignInResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(h.issuer.TTL() / time.Second),
		User:        u,
	})
}

// Logout revokes the presented access token until it expires.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "not signed in"})
		return
	}
	if h.revocations != nil {
		if err := h.revocations.Revoke(c.Request.Context(), claims.ID, time.Until(claims.ExpiresAt)); err != nil {
			logger.Errorf("revoke token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "logout failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Settings)
}
