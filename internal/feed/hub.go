// Package feed broadcasts stoppage events to websocket subscribers, so
// operations dashboards see visits appear and close in real time.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scorypto/innovriddhi-location-server/internal/stoppage"
	"github.com/scorypto/innovriddhi-location-server/internal/track"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub fans stoppage events out to connected websocket clients. A client
// whose send buffer stays full is dropped rather than allowed to stall
// the broadcast loop.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	logger *slog.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(options ...func(*Hub)) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Run dispatches registrations and broadcasts until the context is
// cancelled, then closes every client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("dropping slow feed client")
					h.drop(c)
				}
			}
		}
	}
}

type feedMessage struct {
	Event    string         `json:"event"`
	Stoppage track.Stoppage `json:"stoppage"`
}

// Publish queues a stoppage event for broadcast. Implements
// stoppage.Notifier; events are dropped if the hub is saturated since
// the store remains the source of truth.
func (h *Hub) Publish(e stoppage.Event) {
	msg, err := json.Marshal(feedMessage{
		Event:    e.Kind.String(),
		Stoppage: e.Stoppage,
	})
	if err != nil {
		h.logger.Error(fmt.Sprintf("marshaling feed event: %s", err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("feed broadcast buffer full, dropping event",
			slog.String("deviceID", e.Stoppage.DeviceID))
	}
}

// Serve upgrades the request to a websocket and attaches it to the hub.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrading connection: %w", err)
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// readPump discards inbound frames; the feed is one-way. It exists to
// process control messages and to notice closed connections.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(512)
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
