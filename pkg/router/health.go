package router

import (
	"music-stream/backend/internal/api"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupHealthRoutes registers the health and metrics endpoints. They sit
// outside /api/v1 so probes need no token.
func (r *Router) setupHealthRoutes() {
	api.NewHealthController(r.Container.Health).RegisterHealthRoutes(r.Engine)
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
