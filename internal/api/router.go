// Package api provides the HTTP API for the guest portal.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	AdminUsername string
	AdminPassword string
	// LoginRateLimit is in requests per second per client IP; zero disables it.
	LoginRateLimit float64
	LoginRateBurst int
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Router wraps the Gin engine with portal handlers.
type Router struct {
	engine  *gin.Engine
	handler *Handler
	config  RouterConfig
	logger  *zap.Logger
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler, cfg RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Middleware
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(LoggingMiddleware(logger))

	r := &Router{
		engine:  engine,
		handler: handler,
		config:  cfg,
		logger:  logger,
	}

	r.setupRoutes()

	return r
}

// setupRoutes configures all API routes.
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handler.HealthCheck)
	if r.config.Metrics != nil {
		r.engine.GET("/metrics", gin.WrapH(r.config.Metrics))
	}

	v1 := r.engine.Group("/api/v1")
	{
		v1.POST("/login", RateLimitMiddleware(r.config.LoginRateLimit, r.config.LoginRateBurst), r.handler.Login)
		v1.POST("/logout", r.handler.Logout)

		admin := v1.Group("/admin")
		admin.Use(gin.BasicAuth(gin.Accounts{r.config.AdminUsername: r.config.AdminPassword}))
		{
			admin.GET("/stats", r.handler.Stats)
			admin.GET("/active", r.handler.ActiveSessions)
			admin.POST("/disconnect", r.handler.Disconnect)
			admin.POST("/logout", r.handler.AdminLogout)
			admin.POST("/roster/refresh", r.handler.RefreshRoster)

			users := admin.Group("/users")
			{
				users.GET("", r.handler.ListUsers)
				users.POST("", r.handler.AddUser)
				users.PUT("/:id", r.handler.EditUser)
				users.DELETE("/:id", r.handler.DeleteUser)
				users.POST("/:id/block", r.handler.BlockUser)
				users.POST("/:id/unblock", r.handler.UnblockUser)
			}

			admin.GET("/sessions", r.handler.ListSessions)
			admin.GET("/blocked", r.handler.ListBlocked)
			admin.POST("/blocked/:id/unblock", r.handler.UnblockDevice)
		}
	}
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// corsMiddleware adds CORS headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
