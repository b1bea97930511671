package ws

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"music-stream/backend/pkg/logger"
	pkgws "music-stream/backend/pkg/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type connState int32

const (
	stateUnauthenticated connState = iota
	stateActive
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateActive:
		return "active"
	default:
		return "closed"
	}
}

// Client is one websocket connection
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// identity is the verified user behind the socket, empty for anonymous
	// connections
	identity string
	// userID is the user announced with user_connected. Only the read
	// goroutine touches it.
	userID string

	state   atomic.Int32
	limiter *rate.Limiter
	log     *logger.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, identity string) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.opts.SendBuffer),
		identity: identity,
		limiter:  rate.NewLimiter(hub.opts.EventRate, hub.opts.EventBurst),
		log:      hub.log.WithConnectionID(id).WithUserID(identity),
	}
}

func (c *Client) currentState() connState {
	return connState(c.state.Load())
}

// readPump handles inbound events one at a time until the connection fails
func (c *Client) readPump() {
	defer c.close()

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket read failed", "error", err.Error())
			}
			return
		}

		var env pkgws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed frame, closing connection", "error", err.Error())
			msg := websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, "malformed frame")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.opts.WriteWait))
			return
		}

		c.dispatch(env)
	}
}

// writePump drains the send queue onto the socket and keeps it alive with pings
func (c *Client) writePump() {
	writeWait := c.hub.opts.WriteWait
	ticker := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub closed the queue
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// flush whatever queued up meanwhile, one frame per event
			n := len(c.send)
			for i := 0; i < n; i++ {
				extra, ok := <-c.send
				if !ok {
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close moves the connection to its terminal state and runs disconnect cleanup
func (c *Client) close() {
	c.state.Store(int32(stateClosed))
	c.hub.unregisterClient(c)
	_ = c.conn.Close()
	if c.userID != "" {
		c.hub.handleDisconnect(c)
	}
	c.log.Debug("connection closed", "user_id", c.userID)
}
