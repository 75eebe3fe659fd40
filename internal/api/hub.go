package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const broadcastBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the dashboard may be served from anywhere
	},
}

// WithHubLogger sets the logger for the hub
func WithHubLogger(logger *slog.Logger) func(h *Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "hub"))
	}
}

// Hub keeps track of live feed clients and fans messages out to them.
// Run must be running for clients to be registered and served.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	replies    chan reply
	done       chan struct{}
	mu         sync.RWMutex

	logger *slog.Logger
}

// NewHub creates a hub with a discard logger
func NewHub(options ...func(h *Hub)) *Hub {
	h := Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBufferSize),
		replies:    make(chan reply, broadcastBufferSize),
		done:       make(chan struct{}),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// Run serves the hub until the context is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("live feed hub started")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAllClients()
			h.logger.Info("live feed hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client connected", slog.String("clientID", c.id), slog.String("remoteAddr", c.remoteAddr), slog.Int("clients", count))

			c.enqueue(Message{
				Type:      MessageWelcome,
				Timestamp: time.Now().UTC(),
				Data: map[string]string{
					"client_id":    c.id,
					"connected_at": c.connectedAt.Format(time.RFC3339Nano),
				},
			})

		case c := <-h.unregister:
			h.remove(c)

		case r := <-h.replies:
			h.mu.RLock()
			if _, ok := h.clients[r.client]; ok {
				r.client.enqueue(r.message)
			}
			h.mu.RUnlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			// Clients that cannot keep up are dropped
			for _, c := range slow {
				h.logger.Warn("dropping slow client", slog.String("clientID", c.id))
				h.remove(c)
			}
		}
	}
}

// Publish queues a message for every connected client. It never blocks; the
// message is dropped when the broadcast buffer is full.
func (h *Hub) Publish(m Message) error {
	p, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	select {
	case h.broadcast <- p:
		return nil
	default:
		return fmt.Errorf("broadcast buffer full, %s message dropped", m.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and registers the client with the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrading connection", slog.Any("error", err))
		return
	}

	c := newClient(h, conn, r.RemoteAddr)

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// reply is a message addressed to a single client
type reply struct {
	client  *client
	message Message
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("client disconnected",
			slog.String("clientID", c.id),
			slog.Duration("connected", time.Since(c.connectedAt)),
			slog.Int("clients", len(h.clients)),
		)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
