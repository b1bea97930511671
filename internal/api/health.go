package api

import (
	"music-stream/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// HealthController exposes the health checker over HTTP
type HealthController struct {
	checker *health.Checker
}

// NewHealthController creates a new HealthController
func NewHealthController(checker *health.Checker) *HealthController {
	return &HealthController{checker: checker}
}

// RegisterHealthRoutes registers both health paths for compatibility
func (h *HealthController) RegisterHealthRoutes(router gin.IRoutes) {
	handler := gin.WrapF(h.checker.HTTPHandler())
	router.GET("/health", handler)
	router.GET("/api/health", handler)
}
