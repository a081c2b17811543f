// Package ws pushes streaming notifications to connected UI clients
// over websockets. The hub implements stream.Sink: delivery is
// fire-and-forget, and a slow client loses events rather than ever
// blocking a delivery loop.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/streamscope/metric"
	"github.com/c360/streamscope/stream"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// Notification is the websocket wire shape. Type discriminates the
// channel; the UI filters messages.received events by consumerId.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans streaming events out to every connected client.
type Hub struct {
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub whose clients each buffer up to buffer events.
func NewHub(buffer int, logger *slog.Logger, metrics *metric.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default().With("component", "ws-hub")
	}
	return &Hub{
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway binds to loopback for a local UI.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		buffer:  buffer,
		clients: make(map[*client]struct{}),
	}
}

// Deliver implements stream.Sink. It marshals once, then enqueues to
// every client's send buffer, dropping the event for clients whose
// buffer is full. It never blocks the caller.
func (h *Hub) Deliver(event stream.Event) {
	h.Notify("messages.received", event)
}

// Notify broadcasts an arbitrary notification to all clients.
func (h *Hub) Notify(notificationType string, payload any) {
	data, err := json.Marshal(Notification{Type: notificationType, Payload: payload})
	if err != nil {
		h.logger.Warn("notification marshal failed", "type", notificationType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			if h.metrics != nil {
				h.metrics.SinkEventDropped()
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SinkClientConnected()
	}
	h.logger.Info("sink client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	go c.readLoop()
}

// Close disconnects every client. New connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok && h.metrics != nil {
		h.metrics.SinkClientDisconnected()
	}
}

// client is one websocket connection. All writes go through writeLoop;
// gorilla connections do not allow concurrent writers.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.remove(c)
		_ = c.conn.Close()
	})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop drains client frames so pongs and close frames are
// processed. The notification channel is one-way; inbound payloads are
// discarded.
func (c *client) readLoop() {
	defer c.close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ stream.Sink = (*Hub)(nil)
