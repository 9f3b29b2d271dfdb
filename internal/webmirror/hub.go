package webmirror

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/wire"
)

// Hub is the websocket fan-out for mirrored events, grounded on the
// teacher's internal/hub.Hub: a register/unregister/broadcast channel
// trio drained by a single Run goroutine, so client-map mutation never
// races with broadcast delivery.
type Hub struct {
	token string
	log   *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan mirrorBroadcast

	mu      sync.RWMutex
	clients map[string]*Client
}

type mirrorBroadcast struct {
	sessionID string
	data      []byte
}

// New builds a Hub requiring token on every websocket upgrade (the
// teacher's HandleWebSocket checks r.URL.Query().Get("token") the same
// way). An empty token disables the check, for use behind a loopback-only
// listener that already authenticates at the transport layer.
func New(token string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		token:      token,
		log:        logger,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan mirrorBroadcast, 256),
		clients:    make(map[string]*Client),
	}
}

// Attach wires h as r's broadcast observer. Call once during daemon
// startup, after constructing both the registry and the hub.
func (h *Hub) Attach(r *registry.Registry) {
	r.SetMirror(h.Publish)
}

// Publish projects env to JSON and queues it for delivery to every
// subscribed client. A full broadcast channel drops the event rather than
// block the caller (the registry's broadcast path must never stall on a
// slow or absent mirror consumer).
func (h *Hub) Publish(sessionID id.ID, env wire.Envelope) {
	evt, ok := projectEvent(env)
	if !ok {
		return
	}
	select {
	case h.broadcast <- mirrorBroadcast{sessionID: sessionID.String(), data: mustMarshal(evt)}:
	default:
		h.log.Warn("webmirror: broadcast queue full, dropping event", "kind", env.Kind)
	}
}

// Run drains the register/unregister/broadcast channels until ctx is
// done, then closes every client's send channel so writePump goroutines
// exit.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.wantsSession(msg.sessionID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.log.Warn("webmirror: client send buffer full, dropping event", "client", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers a new
// mirror client. It never blocks the Hub's Run loop: registration is
// asynchronous via the buffered register channel.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Warn("webmirror: accept", "error", err)
		return
	}

	c := newClient(conn, h)
	select {
	case h.register <- c:
	default:
		h.log.Warn("webmirror: register queue full, rejecting client")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}

	go c.writePump(r.Context())
	c.readPump(r.Context())
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	default:
	}
}
