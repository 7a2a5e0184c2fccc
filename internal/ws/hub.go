// Package ws provides the WebSocket hub behind the relay endpoint and the
// viewer's live channel. In relay mode every inbound frame is forwarded
// verbatim to every other connection. The hub also pings each connection on
// a fixed interval and drops connections that stop answering.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/large-farva/pikka-console/internal/observability"
)

const (
	DefaultHeartbeat = 30 * time.Second
	DefaultMaxMissed = 3

	defaultReadLimit = 1 << 20
	writeWait        = 3 * time.Second
)

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	// Name labels log lines and metrics ("relay", "viewer").
	Name string

	// Relay forwards each inbound frame to every other connection. Without
	// it inbound frames are read and discarded.
	Relay bool

	// HeartbeatInterval is the ping period. A connection that misses
	// MaxMissed consecutive pongs is closed.
	HeartbeatInterval time.Duration
	MaxMissed         int

	// ReadLimit caps a single inbound frame in bytes.
	ReadLimit int64

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

type client struct {
	id     uint64
	conn   *websocket.Conn
	alive  atomic.Bool // set by the pong handler, cleared by the hub on ping
	missed int         // owned by the hub loop
}

type inbound struct {
	from *client
	msg  []byte
}

// Hub manages WebSocket client connections. The connection set is owned by
// the Run goroutine; handlers talk to it only through channels.
type Hub struct {
	opts Options
	log  zerolog.Logger

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	inbound    chan inbound
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader

	nextID atomic.Uint64
	count  atomic.Int64
}

// NewHub allocates a hub with buffered channels.
// Call Run in a goroutine to start the event loop.
func NewHub(opts Options) *Hub {
	if opts.Name == "" {
		opts.Name = "relay"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeat
	}
	if opts.MaxMissed <= 0 {
		opts.MaxMissed = DefaultMaxMissed
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Hub{
		opts:       opts,
		log:        opts.Logger.With().Str("component", "hub").Str("hub", opts.Name).Logger(),
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		inbound:    make(chan inbound, 256),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run processes registrations, relayed frames, published frames and
// heartbeats in a single select loop. It closes all clients when ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ping := time.NewTicker(h.opts.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second),
				)
				h.drop(c)
			}
			h.log.Info().Msg("hub stopped, all connections closed")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			n := h.count.Add(1)
			h.opts.Metrics.HubConnected(h.opts.Name, 1)
			h.log.Info().Uint64("client", c.id).Int64("clients", n).Msg("connection opened")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Info().Uint64("client", c.id).Int64("clients", h.count.Load()).Msg("connection closed")
			}

		case in := <-h.inbound:
			h.opts.Metrics.HubFrame(h.opts.Name, "in")
			h.fanOut(in.msg, in.from)

		case msg := <-h.broadcast:
			h.fanOut(msg, nil)

		case <-ping.C:
			h.heartbeat()
		}
	}
}

// fanOut writes msg to every connection except skip. A failed write drops
// that connection; deleting from the map inside range is safe.
func (h *Hub) fanOut(msg []byte, skip *client) {
	for c := range h.clients {
		if c == skip {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug().Err(err).Uint64("client", c.id).Msg("write failed, dropping connection")
			h.drop(c)
			continue
		}
		h.opts.Metrics.HubFrame(h.opts.Name, "out")
	}
}

func (h *Hub) heartbeat() {
	for c := range h.clients {
		if c.alive.Load() {
			c.missed = 0
		} else {
			c.missed++
			h.log.Debug().Uint64("client", c.id).Int("missed", c.missed).Msg("no pong since last ping")
		}
		if c.missed >= h.opts.MaxMissed {
			h.log.Warn().Uint64("client", c.id).Int("missed", c.missed).Msg("client unresponsive, closing")
			h.opts.Metrics.HubEvicted(h.opts.Name)
			h.drop(c)
			continue
		}
		c.alive.Store(false)
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	_ = c.conn.Close()
	h.count.Add(-1)
	h.opts.Metrics.HubConnected(h.opts.Name, -1)
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		c := &client{id: h.nextID.Add(1), conn: conn}
		c.alive.Store(true)
		conn.SetReadLimit(h.opts.ReadLimit)
		conn.SetPongHandler(func(string) error {
			c.alive.Store(true)
			return nil
		})

		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go h.readLoop(c)
	})
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !h.opts.Relay {
			continue
		}
		select {
		case h.inbound <- inbound{from: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

// Publish queues msg for delivery to every connection. If the queue is full
// the message is dropped so the caller never blocks.
func (h *Hub) Publish(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Debug().Msg("publish queue full, message dropped")
	}
}

// PublishJSON marshals v and publishes it.
func (h *Hub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Debug().Err(err).Msg("publish: marshal failed")
		return
	}
	h.Publish(b)
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Name returns the hub's label.
func (h *Hub) Name() string { return h.opts.Name }
