package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.
	sendBuffer     = 256
)

// Client is a single authenticated websocket connection.
type Client struct {
	hub      *Hub
	gateway  *Gateway
	conn     *websocket.Conn
	send     chan []byte
	userID   uuid.UUID
	username string
	logger   zerolog.Logger
}

// UserID returns the verified identity bound to the connection.
func (c *Client) UserID() uuid.UUID { return c.userID }

// Push frames and queues an event for delivery. It never blocks: when the
// client cannot keep up the event is dropped and logged.
func (c *Client) Push(event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to marshal event")
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Str("event", event).Msg("send buffer full, dropping event")
	}
}

// pushError reports an operation failure back to this connection only.
func (c *Client) pushError(message string) {
	c.Push(EventError, ErrorPayload{Message: message})
}

// readPump pumps events from the websocket connection to the gateway.
func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnected(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			break
		}
		c.gateway.Dispatch(c, message)
	}
}

// writePump pumps queued events to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
