package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"music-stream/backend/internal/presence"
	"music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/jwt"
	"music-stream/backend/pkg/logger"
	pkgws "music-stream/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 3 * time.Second

type testEnv struct {
	hub      *Hub
	registry *presence.Registry
	server   *httptest.Server
	tokens   *jwt.Service
}

func newTestEnv(t *testing.T, store MessageStore, configure ...func(*Options)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := jwt.NewService("test-secret", time.Hour, "")
	registry := presence.NewRegistry()
	opts := DefaultOptions()
	for _, f := range configure {
		f(&opts)
	}
	hub := NewHub(registry, store, tokens, logger.Discard(), opts)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c) })
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return &testEnv{hub: hub, registry: registry, server: server, tokens: tokens}
}

func (e *testEnv) url(query string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(jwt.Identity{UserID: userID})
	require.NoError(t, err)
	return token
}

// dial opens a socket authenticated as userID
func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.url("token="+e.token(t, userID)), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials and announces userID, returning once the join broadcast arrived
func (e *testEnv) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, userID)
	send(t, conn, pkgws.EventUserConnected, userID)
	waitFor(t, conn, pkgws.EventUsersOnline, usersInclude(userID))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	frame, err := pkgws.Encode(eventType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// waitFor reads frames until one of eventType satisfies match
func waitFor(t *testing.T, conn *websocket.Conn, eventType string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", eventType)

		var env pkgws.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == eventType && (match == nil || match(env.Data)) {
			return env.Data
		}
	}
}

// expectNone fails if eventType arrives within window. The connection
// cannot be read afterwards.
func expectNone(t *testing.T, conn *websocket.Conn, eventType string, window time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env pkgws.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.NotEqual(t, eventType, env.Type, "unexpected %s: %s", eventType, string(env.Data))
	}
}

func usersInclude(ids ...string) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var online []string
		if err := json.Unmarshal(data, &online); err != nil {
			return false
		}
		return lo.Every(online, ids)
	}
}

func errorCode(code string) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var payload pkgws.ErrorPayload
		return json.Unmarshal(data, &payload) == nil && payload.Code == code
	}
}

func decodeChat(t *testing.T, data json.RawMessage) pkgws.ChatMessage {
	t.Helper()
	var msg pkgws.ChatMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestJoinFanOut(t *testing.T) {
	env := newTestEnv(t, nil)

	c1 := env.connect(t, "u1")
	c2 := env.dial(t, "u2")
	send(t, c2, pkgws.EventUserConnected, "u2")

	for _, conn := range []*websocket.Conn{c1, c2} {
		data := waitFor(t, conn, pkgws.EventUsersOnline, usersInclude("u1", "u2"))
		var online []string
		require.NoError(t, json.Unmarshal(data, &online))
		assert.ElementsMatch(t, []string{"u1", "u2"}, online)

		data = waitFor(t, conn, pkgws.EventActivities, nil)
		var pairs []pkgws.ActivityPair
		require.NoError(t, json.Unmarshal(data, &pairs))
		assert.ElementsMatch(t, []pkgws.ActivityPair{{"u1", "Idle"}, {"u2", "Idle"}}, pairs)
	}
}

func TestUpdateActivityBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.connect(t, "u1")
	c2 := env.connect(t, "u2")

	send(t, c1, pkgws.EventUpdateActivity, pkgws.ActivityUpdate{UserID: "u1", Activity: "Playing Song by Band"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		data := waitFor(t, conn, pkgws.EventActivityUpdated, nil)
		var update pkgws.ActivityUpdate
		require.NoError(t, json.Unmarshal(data, &update))
		assert.Equal(t, pkgws.ActivityUpdate{UserID: "u1", Activity: "Playing Song by Band"}, update)
	}
	assert.Equal(t, "Playing Song by Band", env.registry.ActivitySnapshot()["u1"])
}

func TestUpdateActivityBeforeJoinDoesNotRegister(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.dial(t, "u1")

	send(t, c1, pkgws.EventUpdateActivity, pkgws.ActivityUpdate{UserID: "u1", Activity: "Playing"})
	waitFor(t, c1, pkgws.EventActivityUpdated, nil)

	assert.Equal(t, 0, env.registry.Len())
}

func TestDisconnectBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.connect(t, "u1")
	c2 := env.connect(t, "u2")

	require.NoError(t, c2.Close())

	data := waitFor(t, c1, pkgws.EventUserDisconnected, nil)
	assert.JSONEq(t, `"u2"`, string(data))
	assert.Equal(t, []string{"u1"}, env.registry.OnlineUserIDs())
	assert.Eventually(t, func() bool { return env.hub.ActiveConnections() == 1 }, readTimeout, 10*time.Millisecond)
}

func TestUpdateActivityAcceptsEmptyActivity(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.connect(t, "u1")
	c2 := env.connect(t, "u2")

	send(t, c1, pkgws.EventUpdateActivity, pkgws.ActivityUpdate{UserID: "u1", Activity: "Playing"})
	waitFor(t, c2, pkgws.EventActivityUpdated, nil)

	send(t, c1, pkgws.EventUpdateActivity, pkgws.ActivityUpdate{UserID: "u1", Activity: ""})
	data := waitFor(t, c2, pkgws.EventActivityUpdated, func(d json.RawMessage) bool {
		var update pkgws.ActivityUpdate
		return json.Unmarshal(d, &update) == nil && update.Activity == ""
	})
	assert.JSONEq(t, `{"userId":"u1","activity":""}`, string(data))
	assert.Equal(t, "", env.registry.ActivitySnapshot()["u1"])
	expectNone(t, c1, pkgws.EventError, 200*time.Millisecond)
}

func TestUnannouncedCloseIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	observer := env.connect(t, "observer")
	lurker := env.dial(t, "lurker")
	require.Eventually(t, func() bool { return env.hub.ActiveConnections() == 2 }, readTimeout, 10*time.Millisecond)

	require.NoError(t, lurker.Close())
	require.Eventually(t, func() bool { return env.hub.ActiveConnections() == 1 }, readTimeout, 10*time.Millisecond)

	expectNone(t, observer, pkgws.EventUsersOnline, 300*time.Millisecond)
	assert.Equal(t, []string{"observer"}, env.registry.OnlineUserIDs())
}

// lastOnlineSet drains conn until it stays quiet for window and returns the
// last users_online it carried
func lastOnlineSet(t *testing.T, conn *websocket.Conn, window time.Duration) []string {
	t.Helper()
	var last []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return last
		}
		var env pkgws.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == pkgws.EventUsersOnline {
			require.NoError(t, json.Unmarshal(env.Data, &last))
		}
	}
}

func TestPresenceSettlesOnRegistryState(t *testing.T) {
	for round := 0; round < 10; round++ {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			env := newTestEnv(t, nil)
			observer := env.connect(t, "observer")
			leaver := env.connect(t, "leaver")

			joiners := make([]*websocket.Conn, 20)
			for i := range joiners {
				joiners[i] = env.dial(t, fmt.Sprintf("j%02d", i))
			}

			var wg sync.WaitGroup
			for i, conn := range joiners {
				i, conn := i, conn
				wg.Add(1)
				go func() {
					defer wg.Done()
					frame, err := pkgws.Encode(pkgws.EventUserConnected, fmt.Sprintf("j%02d", i))
					if assert.NoError(t, err) {
						assert.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = leaver.Close()
			}()
			wg.Wait()

			require.Eventually(t, func() bool { return env.registry.Len() == len(joiners)+1 }, readTimeout, 10*time.Millisecond)

			want := env.registry.OnlineUserIDs()
			slices.Sort(want)
			assert.Equal(t, want, lastOnlineSet(t, observer, 300*time.Millisecond))
		})
	}
}

func TestReconnectKeepsUserOnline(t *testing.T) {
	env := newTestEnv(t, nil)
	observer := env.connect(t, "watcher")
	first := env.connect(t, "u1")
	env.connect(t, "u1")

	conn, ok := env.registry.ConnectionFor("u1")
	require.True(t, ok)

	require.NoError(t, first.Close())
	// closing the stale socket must not take u1 offline
	expectNone(t, observer, pkgws.EventUserDisconnected, 300*time.Millisecond)

	current, ok := env.registry.ConnectionFor("u1")
	require.True(t, ok)
	assert.Equal(t, conn, current)
}

func TestIdentityMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.dial(t, "u1")

	send(t, c1, pkgws.EventUserConnected, "someone-else")

	data := waitFor(t, c1, pkgws.EventError, nil)
	var payload pkgws.ErrorPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, errors.CodeIdentityMismatch, payload.Code)
	assert.Equal(t, pkgws.EventUserConnected, payload.Event)
	assert.Equal(t, 0, env.registry.Len())
}

func TestUnknownEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.dial(t, "u1")

	send(t, c1, "dance", map[string]string{"style": "waltz"})

	waitFor(t, c1, pkgws.EventError, errorCode(errors.CodeUnknownEvent))
}

func TestInvalidUserConnectedPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	c1 := env.dial(t, "u1")

	send(t, c1, pkgws.EventUserConnected, map[string]string{"userId": "u1"})
	waitFor(t, c1, pkgws.EventError, errorCode(errors.CodeInvalidPayload))

	send(t, c1, pkgws.EventUserConnected, "")
	waitFor(t, c1, pkgws.EventError, errorCode(errors.CodeInvalidPayload))

	assert.Equal(t, 0, env.registry.Len())
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	observer := env.connect(t, "watcher")
	c1 := env.connect(t, "u1")

	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte("{not json")))

	require.NoError(t, c1.SetReadDeadline(time.Now().Add(readTimeout)))
	var err error
	for err == nil {
		_, _, err = c1.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInvalidFramePayloadData), "got %v", err)

	data := waitFor(t, observer, pkgws.EventUserDisconnected, nil)
	assert.JSONEq(t, `"u1"`, string(data))
}

func TestRateLimitedEvents(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) {
		o.EventRate = 0.001
		o.EventBurst = 1
	})
	c1 := env.connect(t, "u1")

	send(t, c1, pkgws.EventUpdateActivity, pkgws.ActivityUpdate{UserID: "u1", Activity: "Playing"})

	data := waitFor(t, c1, pkgws.EventError, nil)
	var payload pkgws.ErrorPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, errors.CodeRateLimited, payload.Code)
	assert.Equal(t, pkgws.EventUpdateActivity, payload.Event)
	assert.Equal(t, "Idle", env.registry.ActivitySnapshot()["u1"])
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"missing token", ""},
		{"invalid token", "token=garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(env.url(tt.query), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestBearerHeaderAccepted(t *testing.T) {
	env := newTestEnv(t, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.token(t, "u1"))
	conn, resp, err := websocket.DefaultDialer.Dial(env.url(""), header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	send(t, conn, pkgws.EventUserConnected, "u1")
	waitFor(t, conn, pkgws.EventUsersOnline, usersInclude("u1"))
}

func TestAnonymousWhenAuthOptional(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) { o.RequireAuth = false })

	conn, resp, err := websocket.DefaultDialer.Dial(env.url(""), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	send(t, conn, pkgws.EventUserConnected, "anyone")
	waitFor(t, conn, pkgws.EventUsersOnline, usersInclude("anyone"))
}

func TestCheckOrigin(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"http://localhost:3000"}
	hub := NewHub(presence.NewRegistry(), nil, nil, logger.Discard(), opts)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, hub.checkOrigin(req))
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(presence.NewRegistry(), nil, nil, logger.Discard(), Options{SendBuffer: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := &Client{ID: "slow", hub: hub, send: make(chan []byte, 1), log: logger.Discard()}
	require.True(t, hub.registerClient(slow))

	hub.broadcast(pkgws.EventUsersOnline, []string{"first"})
	hub.broadcast(pkgws.EventUsersOnline, []string{"second"})

	assert.Eventually(t, func() bool { return hub.ActiveConnections() == 0 }, readTimeout, 5*time.Millisecond)

	frame, ok := <-slow.send
	require.True(t, ok)
	assert.Contains(t, string(frame), "first")
	_, ok = <-slow.send
	assert.False(t, ok)
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(presence.NewRegistry(), nil, nil, logger.Discard(), DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := &Client{ID: "c", hub: hub, send: make(chan []byte, 1), log: logger.Discard()}
	require.True(t, hub.registerClient(client))
	assert.Eventually(t, hub.Running, readTimeout, 5*time.Millisecond)

	cancel()

	_, ok := <-client.send
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return !hub.Running() }, readTimeout, 5*time.Millisecond)
	assert.False(t, hub.registerClient(&Client{ID: "late", send: make(chan []byte, 1), log: logger.Discard()}))
}
