package router

import (
	"os"
	"path/filepath"

	"music-stream/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates requests on group against the schema at
// schemaPath and serves the schema under /api/docs. A missing or broken
// schema only disables validation.
func (r *Router) AddOpenAPIValidation(group *gin.RouterGroup, schemaPath string) bool {
	if _, err := os.Stat(schemaPath); os.IsNotExist(err) {
		r.Logger.Warn("OpenAPI schema file not found, skipping validation", "path", schemaPath)
		return false
	}

	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator")
		return false
	}

	group.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath)

	r.Engine.StaticFile("/api/docs/"+filepath.Base(schemaPath), schemaPath)
	return true
}
