package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period, must be less than pongWait
	maxMessageSize = 512                 // Maximum message size allowed from peer
	sendBufferSize = 256
)

type client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	remoteAddr  string
	connectedAt time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *client {
	return &client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		id:          uuid.New().String(),
		remoteAddr:  remoteAddr,
		connectedAt: time.Now().UTC(),
	}
}

// enqueue queues a message for this client only. It must be called from the
// hub loop, which owns the send channel.
func (c *client) enqueue(m Message) {
	p, err := json.Marshal(m)
	if err != nil {
		c.hub.logger.Error("marshaling message", slog.String("type", m.Type), slog.Any("error", err))
		return
	}

	select {
	case c.send <- p:
	default:
		c.hub.logger.Warn("client send buffer full", slog.String("clientID", c.id), slog.String("type", m.Type))
	}
}

// readPump handles client commands and detects closed connections
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("clientID", c.id), slog.Any("error", err))
			}
			return
		}

		var cmd command
		if err = json.Unmarshal(p, &cmd); err != nil {
			c.hub.logger.Debug("ignoring malformed command", slog.String("clientID", c.id), slog.Any("error", err))
			continue
		}

		if cmd.Type == "ping" {
			c.reply(Message{
				Type:      MessagePong,
				Timestamp: time.Now().UTC(),
				Data:      map[string]string{"id": cmd.ID},
			})
		}
	}
}

// reply hands a message for this client to the hub loop, which owns the
// send channel
func (c *client) reply(m Message) {
	select {
	case c.hub.replies <- reply{client: c, message: m}:
	case <-c.hub.done:
	default:
		c.hub.logger.Warn("dropping reply", slog.String("clientID", c.id), slog.String("type", m.Type))
	}
}

// writePump sends queued messages and pings; one frame per message
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.hub.logger.Debug("writing message", slog.String("clientID", c.id), slog.Any("error", err))
				}
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
