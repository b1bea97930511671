package api

import (
	stderrors "errors"
	"net/http"

	"music-stream/backend/internal/service"
	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// UserController serves the user directory
type UserController struct {
	users *service.UserService
}

// NewUserController creates a new UserController
func NewUserController(users *service.UserService) *UserController {
	return &UserController{users: users}
}

// RegisterRoutes mounts the directory routes on an authenticated group
func (c *UserController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/users", c.ListUsers)
	group.GET("/users/me", c.Me)
	group.GET("/users/profile/:userId", c.GetProfile)
}

// ListUsers returns every user except the caller. The caller's own profile
// is created first so that a client which only ever lists users still
// becomes visible to others.
func (c *UserController) ListUsers(ctx *gin.Context) {
	identity, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		ctx.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "authentication required"))
		return
	}

	if _, err := c.users.EnsureUser(ctx.Request.Context(), identity); err != nil {
		logger.FromContext(ctx).LogError(err, "failed to resolve profile")
		ctx.Error(errors.NewInternalServerError(errors.CodeInternal, "failed to resolve profile"))
		return
	}

	users, err := c.users.ListUsers(ctx.Request.Context(), identity.UserID)
	if err != nil {
		logger.FromContext(ctx).LogError(err, "failed to list users")
		ctx.Error(errors.NewInternalServerError(errors.CodeInternal, "failed to list users"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"users": users})
}

// Me returns the caller's profile, creating it on first sight
func (c *UserController) Me(ctx *gin.Context) {
	identity, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		ctx.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "authentication required"))
		return
	}

	user, err := c.users.EnsureUser(ctx.Request.Context(), identity)
	if err != nil {
		logger.FromContext(ctx).LogError(err, "failed to resolve profile")
		ctx.Error(errors.NewInternalServerError(errors.CodeInternal, "failed to resolve profile"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": user})
}

// GetProfile returns another user's profile
func (c *UserController) GetProfile(ctx *gin.Context) {
	user, err := c.users.GetUser(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		if stderrors.Is(err, service.ErrUserNotFound) {
			ctx.Error(errors.NewNotFoundError(errors.CodeNotFound, "user not found"))
			return
		}
		logger.FromContext(ctx).LogError(err, "failed to load profile")
		ctx.Error(errors.NewInternalServerError(errors.CodeInternal, "failed to load profile"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": user})
}
