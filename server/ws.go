package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/internal/wildcard"
)

// Hub pushes every bus event to connected WebSocket clients as
// {type:"event", data, timestamp} frames. Clients can narrow the feed with
// a subscribe frame and probe liveness with ping frames.
type Hub struct {
	engine *gamify.Engine
	cfg    gamify.WebSocketConfig
	logger gamify.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	sub     *eventbus.Subscription
	closed  bool
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	patterns []string // empty means all events
}

// Inbound client frames.
type clientFrame struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
}

func newHub(engine *gamify.Engine, cfg gamify.WebSocketConfig, logger gamify.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Hub{
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the HTTP CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// start subscribes the hub to the bus.
func (h *Hub) start() error {
	sub, err := h.engine.Bus().SubscribeWildcard("*", func(_ context.Context, event eventbus.Event) error {
		h.broadcast(event)
		return nil
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
	return nil
}

// stop cancels the bus subscription and closes every client.
func (h *Hub) stop() {
	h.mu.Lock()
	h.closed = true
	sub := h.sub
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	for _, client := range clients {
		client.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump(h.cfg.PingInterval)
	go client.readPump()
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// broadcast fans an event frame out to every interested client. Slow
// clients are dropped rather than blocking the bus handler.
func (h *Hub) broadcast(event eventbus.Event) {
	frame, err := json.Marshal(map[string]any{
		"type":      "event",
		"data":      event,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.wants(event.Name) {
			continue
		}
		select {
		case client.send <- frame:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.drop(client)
			client.close(websocket.CloseGoingAway, "send buffer overflow")
		}
	}
}

func (c *wsClient) wants(eventName string) bool {
	c.mu.Lock()
	patterns := c.patterns
	c.mu.Unlock()
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if pattern == "*" || pattern == eventName || wildcard.Match(pattern, eventName) {
			return true
		}
	}
	return false
}

// readPump handles inbound frames until the connection drops. Protocol
// violations close the connection with policy code 1008.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.close(websocket.ClosePolicyViolation, "malformed frame")
			return
		}
		switch frame.Type {
		case "subscribe":
			valid := frame.Events[:0:0]
			for _, pattern := range frame.Events {
				if err := wildcard.Validate(pattern); err != nil {
					c.close(websocket.ClosePolicyViolation, "invalid pattern")
					return
				}
				valid = append(valid, pattern)
			}
			c.mu.Lock()
			c.patterns = valid
			c.mu.Unlock()
		case "ping":
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			select {
			case c.send <- pong:
			default:
			}
		default:
			c.close(websocket.ClosePolicyViolation, "unknown frame type")
			return
		}
	}
}

// writePump serialises all writes: event frames from the hub plus the
// periodic protocol-level pings.
func (c *wsClient) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close sends a close frame with the given code and tears the connection
// down.
func (c *wsClient) close(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	c.conn.Close()
}
