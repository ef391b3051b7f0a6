package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

// Client pumps messages between one subscriber's WebSocket connection and
// the hub.
type Client struct {
	hub    *Hub
	group  string
	conn   *websocket.Conn
	send   chan Message
	logger zerolog.Logger
}

// NewClient wraps an upgraded connection as a subscriber of the group.
func NewClient(h *Hub, group string, conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		hub:    h,
		group:  group,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		logger: logger,
	}
}

// Start registers the client with the hub and launches its pumps. It
// returns immediately; the connection lives until the peer disconnects,
// the hub drops the client, or the hub shuts down.
func (c *Client) Start() {
	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump drains the connection. Subscribers are read-only consumers, so
// inbound frames are discarded; the read loop exists to notice disconnects
// and answer pings via the pong handler.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("subscriber read error")
			}
			return
		}
	}
}

// writePump serializes hub messages to the connection and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
