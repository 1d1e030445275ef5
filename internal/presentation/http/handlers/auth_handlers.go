package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/application/services"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// Authenticator issues and checks admin tokens.
type Authenticator interface {
	Login(password string) (*services.AuthResult, error)
	ValidateToken(token string) error
}

// AuthHandlers contains the admin login endpoint and its guard.
type AuthHandlers struct {
	auth   Authenticator
	logger *logging.ChanneledLogger
}

func NewAuthHandlers(auth Authenticator, logger *logging.ChanneledLogger) *AuthHandlers {
	return &AuthHandlers{
		auth:   auth,
		logger: logger,
	}
}

// PostLogin handles POST /api/admin/login
func (h *AuthHandlers) PostLogin(c *gin.Context) {
	start := time.Now()

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "password is required")
		return
	}

	result, err := h.auth.Login(req.Password)
	switch {
	case errors.Is(err, services.ErrAuthDisabled):
		respondError(c, http.StatusServiceUnavailable, "admin login is not configured")
		return
	case errors.Is(err, services.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		h.logger.Auth().Error("Admin login failed", "error", err.Error())
		respondError(c, http.StatusInternalServerError, "login failed")
		return
	}

	h.logger.Auth().Debug("Admin login request completed", "duration", time.Since(start))
	respondOK(c, "login successful", result)
}

// AdminAuthMiddleware rejects requests without a valid admin bearer token.
func (h *AuthHandlers) AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "authorization required")
			return
		}

		if err := h.auth.ValidateToken(token); err != nil {
			if errors.Is(err, services.ErrAuthDisabled) {
				abortWithError(c, http.StatusServiceUnavailable, "admin login is not configured")
				return
			}
			h.logger.Auth().Debug("Admin token rejected", "path", c.Request.URL.Path, "error", err.Error())
			abortWithError(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
