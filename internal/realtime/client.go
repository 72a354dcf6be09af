package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/pkg/config"
)

// Client wraps a single websocket connection. A client starts anonymous,
// becomes addressable once an auth frame is accepted, and stays usable for
// scan frames either way.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan Outbound
	done   chan struct{}
	cfg    config.RealtimeConfig
	logger *zap.Logger

	mu        sync.Mutex
	principal *models.Principal
	name      string
	closed    bool
}

func newClient(conn *websocket.Conn, cfg config.RealtimeConfig, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan Outbound, cfg.SendBuffer),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger.With(zap.String("connection_id", id)),
	}
}

// ID returns the transport-level connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Principal returns the authenticated identity, or nil while anonymous.
func (c *Client) Principal() *models.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// Name returns the display name set at authentication time.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) authenticate(p models.Principal, name string) {
	c.mu.Lock()
	c.principal = &p
	c.name = name
	c.mu.Unlock()
}

// deliver queues a frame for the write pump. A client whose buffer is full
// drops the frame; slow consumers never block the sender.
func (c *Client) deliver(ev Outbound) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		c.logger.Warn("send buffer full, dropping frame", zap.String("type", ev.Type))
	}
}

func (c *Client) close() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return
	}
	close(c.done)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// readPump consumes inbound frames until the peer disconnects, handing each
// one to the gateway for dispatch.
func (c *Client) readPump(ctx context.Context, gw *Gateway) {
	defer func() {
		gw.disconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		gw.HandleMessage(ctx, c, data)
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
