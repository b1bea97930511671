package router

import (
	"net/http"
	"slices"
	"strings"

	"music-stream/backend/internal/api"
	"music-stream/backend/internal/ws"
	"music-stream/backend/pkg/config"
	"music-stream/backend/pkg/di"
	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// request id first so the logger and error handler can see it
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	opts := middleware.DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		rateLimiter: middleware.NewRateLimiter(container.Logger, opts),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()

	v1 := r.Engine.Group("/api/v1")
	v1.Use(middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger))
	v1.Use(r.rateLimiter.Middleware())
	if r.Config.OpenAPI.SchemaPath != "" {
		r.AddOpenAPIValidation(v1, r.Config.OpenAPI.SchemaPath)
	}

	api.NewUserController(r.Container.UserService).RegisterRoutes(v1)
	api.NewMessageController(
		r.Container.MessageService,
		r.Config.History.PageSize,
		r.Config.History.MaxPageSize,
	).RegisterRoutes(v1)

	// the socket authenticates itself at upgrade time
	r.Engine.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(r.Container.Hub, c)
	})
}

// Stop releases background resources owned by the router
func (r *Router) Stop() {
	r.rateLimiter.Stop()
}

// corsMiddleware allows browsers from the configured origins, including
// the headers a websocket upgrade carries
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := slices.Contains(allowedOrigins, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowAll || slices.Contains(allowedOrigins, origin)) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", "Content-Length", "Accept", "Accept-Encoding", "Authorization",
				"Origin", "Upgrade", "Connection", "Cache-Control", "X-Request-ID",
			}, ", "))
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
			c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
