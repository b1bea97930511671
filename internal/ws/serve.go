package ws

import (
	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ServeWs upgrades the request to a websocket bound to the caller's
// verified identity and starts its pumps
func ServeWs(hub *Hub, c *gin.Context) {
	log := logger.FromContext(c)

	identity, err := hub.authenticate(middleware.TokenFromRequest(c))
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := newClient(hub, conn, identity)
	if !hub.registerClient(client) {
		_ = conn.Close()
		return
	}
	client.log.Info("websocket connected", "remote_addr", c.ClientIP())

	go client.writePump()
	go client.readPump()
}

// authenticate resolves the bearer token to a user id. Anonymous sockets
// are only allowed when auth is optional.
func (h *Hub) authenticate(token string) (string, error) {
	if token == "" {
		if h.opts.RequireAuth {
			return "", errors.NewUnauthorizedError(errors.CodeAuthRequired, "a bearer token is required to open a socket")
		}
		return "", nil
	}

	if h.identity == nil {
		if h.opts.RequireAuth {
			return "", errors.NewUnauthorizedError(errors.CodeInvalidToken, "tokens cannot be verified")
		}
		return "", nil
	}

	userID, err := h.identity.Verify(token)
	if err != nil {
		h.log.Warn("socket token rejected", "error", err.Error())
		return "", errors.NewUnauthorizedError(errors.CodeInvalidToken, "invalid or expired token")
	}
	return userID, nil
}
