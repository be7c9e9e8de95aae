// Package network carries viewer messages over a websocket.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/logger"
	"github.com/Faultbox/scenetag/internal/network/packets"
)

// ErrNotConnected is returned when sending on a closed connection.
var ErrNotConnected = errors.New("not connected")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// Handler handles one inbound frame.
type Handler func(msg packets.Inbound) error

// Client is one viewer connection. Send is safe for concurrent use.
type Client struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	log       *zap.Logger
}

// New wraps an upgraded websocket connection.
func New(conn *websocket.Conn) *Client {
	return &Client{
		conn:      conn,
		connected: true,
		log:       logger.Named("network").With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.conn.Close()
	c.connected = false
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes one frame.
func (c *Client) Send(msg packets.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	return nil
}

// Process reads frames and hands each to handle until the peer goes away or
// ctx ends. A handler error is logged and reading continues. It returns nil
// on a normal close.
func (c *Client) Process(ctx context.Context, handle Handler) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.keepAlive(ctx, stop)

	for {
		var msg packets.Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || !c.IsConnected() {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		if msg.Type == "" {
			c.log.Debug("dropping frame without type")
			continue
		}
		if err := handle(msg); err != nil {
			c.log.Warn("handling frame", zap.String("type", msg.Type), zap.Error(err))
		}
	}
}

// keepAlive pings the peer and closes the connection when ctx ends.
func (c *Client) keepAlive(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			c.Disconnect()
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.connected {
				_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
			c.mu.Unlock()
		}
	}
}
