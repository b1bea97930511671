package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/jwt"
	"music-stream/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(svc *jwt.Service) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware(), errors.ErrorHandler())
	r.GET("/me", JWTAuthMiddleware(svc, logger.Discard()), func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"userId":    identity.UserID,
			"ctxUserId": GetUserID(c.Request.Context()),
			"requestId": GetRequestID(c.Request.Context()),
		})
	})
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	svc := jwt.NewService("secret", time.Hour, "")
	token, err := svc.GenerateToken(jwt.Identity{UserID: "user_1"})
	require.NoError(t, err)
	r := newAuthRouter(svc)

	tests := []struct {
		name     string
		setup    func(*http.Request)
		wantCode int
		wantBody string
	}{
		{"missing token", func(*http.Request) {}, http.StatusUnauthorized, errors.CodeAuthRequired},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer junk") }, http.StatusUnauthorized, errors.CodeInvalidToken},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "user_1"},
		{"query parameter", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusOK, "user_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	svc := jwt.NewService("secret", time.Hour, "")
	token, err := svc.GenerateToken(jwt.Identity{UserID: "user_1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"userId":"user_1","ctxUserId":"user_1","requestId":"req-42"}`, w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(logger.Discard(), RateLimiterOptions{
		Limit:          0.001,
		Burst:          2,
		ExpiryDuration: time.Hour,
	})
	defer limiter.Stop()

	r := gin.New()
	r.Use(errors.ErrorHandler(), limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
