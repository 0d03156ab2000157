// Package gateway is the web front-end surface: a JSON API for the page
// controls and a websocket channel that streams session events out and
// accepts normalized commands in.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The kiosk page is served from the same host; cross-origin pages
	// are not a concern for a LAN appliance.
	CheckOrigin: func(*http.Request) bool { return true },
}

// envelope is the wire shape of one pushed event.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// inbound is the wire shape of one client message.
type inbound struct {
	Command string `json:"command,omitempty"`
	Key     string `json:"key,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan envelope
}

// Hub fans session events out to every connected websocket client. It is
// the session's event sink.
type Hub struct {
	log      *slog.Logger
	commands CommandHandler

	mu      sync.Mutex
	clients map[*client]struct{}
}

// CommandHandler receives normalized commands arriving over websocket.
type CommandHandler interface {
	DispatchNamed(ctx context.Context, command string) error
	DispatchKey(ctx context.Context, key string) error
}

func NewHub(commands CommandHandler, log *slog.Logger) *Hub {
	return &Hub{
		log:      log.With(slog.String("component", "gateway")),
		commands: commands,
		clients:  make(map[*client]struct{}),
	}
}

// Emit broadcasts one event to every connected client. Slow clients drop
// events rather than stalling the broadcast.
func (h *Hub) Emit(event string, payload any) {
	msg := envelope{Event: event, Data: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping event for slow websocket client", slog.String("event", event))
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and runs the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{conn: conn, send: make(chan envelope, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer h.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("bad websocket message", slog.String("error", err.Error()))
			continue
		}
		h.dispatch(ctx, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, msg inbound) {
	var err error
	switch {
	case msg.Command != "":
		err = h.commands.DispatchNamed(ctx, msg.Command)
	case msg.Key != "":
		err = h.commands.DispatchKey(ctx, msg.Key)
	default:
		return
	}
	if err != nil {
		h.log.Warn("websocket command failed", slog.String("error", err.Error()))
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		close(c.send)
		c.conn.Close()
	}
}
