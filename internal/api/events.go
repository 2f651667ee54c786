package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"safestep/pkg/model"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// EventSource publishes walk events.
type EventSource interface {
	Subscribe(fn func(*model.WalkEvent)) func()
}

// eventClient is one connected websocket.
type eventClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *eventClient) close() {
	c.once.Do(func() { close(c.send) })
}

// EventHub pushes walk events to websocket clients.
// Slow clients are dropped rather than blocking the walk.
type EventHub struct {
	upgrader    websocket.Upgrader
	unsubscribe func()
	logger      *slog.Logger

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewEventHub subscribes to src and serves its events on GET /api/events.
func NewEventHub(src EventSource) *EventHub {
	h := &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The UI is served from a different local port during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*eventClient]struct{}),
		logger:  slog.With("component", "events"),
	}
	h.unsubscribe = src.Subscribe(h.broadcast)
	return h
}

// ServeHTTP upgrades the connection and streams events until the client leaves.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &eventClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Event client connected", "remote", r.RemoteAddr, "clients", count)

	go h.writeLoop(c)
	h.readLoop(c)
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the source and disconnects all clients.
func (h *EventHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*eventClient]struct{})
	h.mu.Unlock()

	h.unsubscribe()
	for c := range clients {
		c.close()
	}
	h.logger.Debug("Event hub closed", "sent", h.sent.Load(), "dropped", h.dropped.Load())
}

func (h *EventHub) broadcast(ev *model.WalkEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", ev.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			h.sent.Add(1)
		default:
			delete(h.clients, c)
			c.close()
			h.dropped.Add(1)
			h.logger.Warn("Dropped slow event client")
		}
	}
}

func (h *EventHub) remove(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop discards client messages and detects disconnects.
func (h *EventHub) readLoop(c *eventClient) {
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Event client read error", "error", err)
			}
			return
		}
	}
}

func (h *EventHub) writeLoop(c *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
