package ws

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"music-stream/backend/internal/presence"
	"music-stream/backend/pkg/logger"
	pkgws "music-stream/backend/pkg/ws"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Options tunes the gateway
type Options struct {
	// RequireAuth rejects socket upgrades without a valid bearer token
	RequireAuth    bool
	AllowedOrigins []string
	// StoreTimeout bounds a single message write
	StoreTimeout time.Duration
	// EventRate and EventBurst limit inbound events per connection
	EventRate  rate.Limit
	EventBurst int
	// SendBuffer is the per connection outbound queue length. A client whose
	// queue is full is dropped.
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	Meter          metric.Meter
}

// DefaultOptions returns the gateway defaults
func DefaultOptions() Options {
	return Options{
		RequireAuth:    true,
		StoreTimeout:   10 * time.Second,
		EventRate:      20,
		EventBurst:     40,
		SendBuffer:     256,
		MaxMessageSize: 64 << 10,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
	}
}

// snapshotKind selects presence frames Run builds when it dequeues a delivery
type snapshotKind int

const (
	snapshotNone snapshotKind = iota
	// snapshotOnline is users_online alone
	snapshotOnline
	// snapshotPresence is users_online followed by activities
	snapshotPresence
)

// delivery is one outbound frame. An empty target means every connection.
// Snapshot deliveries carry no frame: the registry is read on the run loop,
// so snapshots reach clients in the order the registry changed.
type delivery struct {
	target   string
	frame    []byte
	snapshot snapshotKind
}

// Hub owns the connection table. Only Run touches clients and the send
// queues, so a queue is never written after it is closed.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	outbound   chan delivery
	done       chan struct{}

	presence *presence.Registry
	store    MessageStore
	identity IdentityProvider
	log      *logger.Logger
	metrics  *gatewayMetrics
	validate *validator.Validate
	upgrader websocket.Upgrader
	opts     Options

	running atomic.Bool
	active  atomic.Int64
}

// NewHub creates a gateway around the given registry and store
func NewHub(registry *presence.Registry, store MessageStore, identity IdentityProvider, log *logger.Logger, opts Options) *Hub {
	defaults := DefaultOptions()
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}
	if opts.EventRate <= 0 {
		opts.EventRate = defaults.EventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = defaults.EventBurst
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan delivery, 1024),
		done:       make(chan struct{}),
		presence:   registry,
		store:      store,
		identity:   identity,
		log:        log,
		metrics:    newGatewayMetrics(opts.Meter, registry, log),
		validate:   newValidator(),
		opts:       opts,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

// Run processes registrations and deliveries until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case client := <-h.register:
			h.clients[client.ID] = client
			h.active.Add(1)
			h.metrics.connectionOpened()
			client.log.Debug("client registered")

		case client := <-h.unregister:
			if current, ok := h.clients[client.ID]; ok && current == client {
				h.remove(client)
				client.log.Debug("client unregistered")
			}

		case d := <-h.outbound:
			if d.snapshot != snapshotNone {
				for _, frame := range h.snapshotFrames(d.snapshot) {
					h.fanOut(delivery{target: d.target, frame: frame})
				}
				continue
			}
			h.fanOut(d)

		case <-ctx.Done():
			for _, client := range h.clients {
				h.remove(client)
			}
			close(h.done)
			h.log.Info("realtime hub stopped")
			return
		}
	}
}

func (h *Hub) fanOut(d delivery) {
	if d.target == "" {
		for _, client := range h.clients {
			h.deliver(client, d.frame)
		}
		return
	}
	if client, ok := h.clients[d.target]; ok {
		h.deliver(client, d.frame)
	}
}

func (h *Hub) deliver(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		client.log.Warn("send queue full, dropping client")
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client.ID)
	close(client.send)
	h.active.Add(-1)
	h.metrics.connectionClosed()
}

func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) enqueue(d delivery) bool {
	select {
	case h.outbound <- d:
		return true
	case <-h.done:
		return false
	}
}

// broadcast sends an event to every connection
func (h *Hub) broadcast(eventType string, data any) {
	h.sendTo("", eventType, data)
}

// sendTo sends an event to one connection, or to all when connID is empty
func (h *Hub) sendTo(connID, eventType string, data any) {
	frame, err := pkgws.Encode(eventType, data)
	if err != nil {
		h.log.LogError(err, "failed to encode event", "event", eventType)
		return
	}
	h.enqueue(delivery{target: connID, frame: frame})
}

// broadcastPresence sends the full online set followed by the activity map
func (h *Hub) broadcastPresence() {
	h.enqueue(delivery{snapshot: snapshotPresence})
}

// snapshotFrames encodes the current registry state. Only Run calls it.
func (h *Hub) snapshotFrames(kind snapshotKind) [][]byte {
	ids, activities := h.presence.Snapshot()
	slices.Sort(ids)

	frames := h.appendFrame(make([][]byte, 0, 2), pkgws.EventUsersOnline, ids)
	if kind == snapshotPresence {
		pairs := lo.MapToSlice(activities, func(userID, activity string) pkgws.ActivityPair {
			return pkgws.ActivityPair{userID, activity}
		})
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
		frames = h.appendFrame(frames, pkgws.EventActivities, pairs)
	}
	return frames
}

func (h *Hub) appendFrame(frames [][]byte, eventType string, data any) [][]byte {
	frame, err := pkgws.Encode(eventType, data)
	if err != nil {
		h.log.LogError(err, "failed to encode event", "event", eventType)
		return frames
	}
	return append(frames, frame)
}

// handleDisconnect removes the user bound to a closed connection and tells
// everyone else
func (h *Hub) handleDisconnect(client *Client) {
	userID, ok := h.presence.Unregister(client.ID)
	if !ok {
		return
	}
	client.log.Info("user disconnected", "user_id", userID)
	h.enqueue(delivery{snapshot: snapshotOnline})
	h.broadcast(pkgws.EventUserDisconnected, userID)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.opts.AllowedOrigins, "*") || lo.Contains(h.opts.AllowedOrigins, origin)
}

// ActiveConnections returns the number of open sockets
func (h *Hub) ActiveConnections() int64 {
	return h.active.Load()
}

// OnlineUsers returns the number of users registered as online
func (h *Hub) OnlineUsers() int {
	return h.presence.Len()
}

// Running reports whether the run loop is active
func (h *Hub) Running() bool {
	return h.running.Load()
}
