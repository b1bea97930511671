package middleware

import (
	"context"
	"strings"

	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/jwt"
	"music-stream/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TokenFromRequest extracts a bearer token from the Authorization header or,
// for websocket upgrades where browsers cannot set headers, the token query
// parameter.
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return strings.TrimSpace(header)
	}
	return c.Query("token")
}

// JWTAuthMiddleware checks that the request has a valid JWT and adds claims to the context
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			c.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Warn("invalid JWT token", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthorizedError(errors.CodeInvalidToken, "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("userId", claims.UserID())
		ctx := context.WithValue(c.Request.Context(), UserIDKey, claims.UserID())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CurrentIdentity returns the identity set by JWTAuthMiddleware
func CurrentIdentity(c *gin.Context) (jwt.Identity, bool) {
	v, ok := c.Get("claims")
	if !ok {
		return jwt.Identity{}, false
	}
	claims, ok := v.(*jwt.Claims)
	if !ok {
		return jwt.Identity{}, false
	}
	return claims.Identity(), true
}
