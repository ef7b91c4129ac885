package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket connection of a user
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.hub.logger.Warn("client send buffer full, disconnecting", zap.String("user_id", c.UserID.String()))
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket closed unexpectedly", zap.String("user_id", c.UserID.String()), zap.Error(err))
			}
			return
		}
		c.hub.handle(context.Background(), c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			if err := c.hub.presence.Refresh(ctx, c.UserID, c.ID); err != nil {
				c.hub.logger.Warn("presence heartbeat failed", zap.Error(err))
			}
			cancel()
		}
	}
}
