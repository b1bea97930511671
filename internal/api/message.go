package api

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"music-stream/backend/internal/models"
	"music-stream/backend/internal/service"
	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/middleware"
	pkgws "music-stream/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// MessageController serves conversation history
type MessageController struct {
	messages    *service.MessageService
	pageSize    int
	maxPageSize int
}

// NewMessageController creates a new message controller. Requested page
// sizes above maxPageSize are clamped.
func NewMessageController(messages *service.MessageService, pageSize, maxPageSize int) *MessageController {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPageSize < pageSize {
		maxPageSize = pageSize
	}
	return &MessageController{
		messages:    messages,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
	}
}

// RegisterRoutes mounts the history route on an authenticated group
func (c *MessageController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/users/messages/:userId", c.GetConversation)
}

// HistoryResponse is one page of a conversation, oldest first
type HistoryResponse struct {
	Messages   []*pkgws.ChatMessage `json:"messages"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// GetConversation returns the messages exchanged between the caller and userId
func (c *MessageController) GetConversation(ctx *gin.Context) {
	identity, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		ctx.Error(errors.NewUnauthorizedError(errors.CodeAuthRequired, "authentication required"))
		return
	}

	limit := c.pageSize
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			ctx.Error(errors.NewBadRequestError(errors.CodeInvalidPayload, "limit must be a positive integer"))
			return
		}
		limit = min(n, c.maxPageSize)
	}

	page, err := c.messages.HistoryPage(ctx.Request.Context(), identity.UserID, ctx.Param("userId"), ctx.Query("cursor"), limit)
	if err != nil {
		if stderrors.Is(err, service.ErrInvalidCursor) {
			ctx.Error(errors.NewBadRequestError(errors.CodeInvalidCursor, "cursor is malformed"))
			return
		}
		logger.FromContext(ctx).LogError(err, "failed to load conversation", "peer", ctx.Param("userId"))
		ctx.Error(errors.NewInternalServerError(errors.CodeInternal, "failed to load messages"))
		return
	}

	ctx.JSON(http.StatusOK, HistoryResponse{
		Messages:   lo.Map(page.Messages, func(m models.Message, _ int) *pkgws.ChatMessage { return service.ToChatMessage(&m) }),
		NextCursor: page.NextCursor,
	})
}
