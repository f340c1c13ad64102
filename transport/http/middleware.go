package http

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/service"
)

const ctxUserID = "userID"

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(authService *service.AuthService, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(c, logger, core.ErrUnauthorized)
			return
		}

		session, err := authService.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			writeError(c, logger, err)
			return
		}

		c.Set(ctxUserID, session.UserID)

		c.Next()
	}
}

// userID returns the subject set by AuthMiddleware
func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
