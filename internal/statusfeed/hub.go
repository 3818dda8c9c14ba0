// Package statusfeed pushes supervisor mode changes to websocket subscribers.
package statusfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one mode change.
type Event struct {
	Mode     string    `json:"mode"`
	Previous string    `json:"previous"`
	At       time.Time `json:"at"`
}

// Hub broadcasts events to every connected client. A client that joins late
// receives the most recent event first.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	bufferSize   int
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
		bufferSize:   16,
		logger:       logger.With("component", "statusfeed"),
		clients:      make(map[*client]struct{}),
	}
}

// Publish broadcasts e. Clients that cannot keep up are disconnected.
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshal event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("disconnecting slow status client", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.bufferSize)}
	if !h.add(c) {
		conn.Close()
		return
	}
	go h.write(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("status client connected", "remote", c.conn.RemoteAddr().String(), "clients", len(h.clients))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) write(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("status write failed", "error", err)
			h.remove(c)
			break
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
