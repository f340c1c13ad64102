package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/service"
)

// SetupRouter sets up the Gin router. metrics may be nil to omit /metrics.
func SetupRouter(authService *service.AuthService, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.Default()

	// Create handlers
	handlers := NewAuthHandlers(authService, logger)

	router.GET("/healthz", Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// Public auth routes
	auth := router.Group("/auth")
	{
		auth.GET("/challenge", handlers.Challenge)
		auth.POST("/verify", handlers.Verify)
		auth.POST("/email/signup", handlers.EmailSignup)
		auth.POST("/email/login", handlers.EmailLogin)
	}

	// Routes requiring a bearer token
	protected := router.Group("/auth")
	protected.Use(AuthMiddleware(authService, logger))
	{
		protected.POST("/link", handlers.Link)
		protected.GET("/me", handlers.Me)
		protected.PATCH("/me", handlers.UpdateMe)
		protected.POST("/me/deactivate", handlers.Deactivate)
		protected.GET("/identities", handlers.Identities)
		protected.DELETE("/identities/:provider/:external_id", handlers.Unlink)
		protected.POST("/email/password", handlers.ChangePassword)
	}

	return router
}
