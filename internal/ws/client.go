package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSendBufferFull is returned by Enqueue when the peer has fallen too
// far behind; the hub responds by evicting the connection.
var ErrSendBufferFull = errors.New("ws: send buffer full")

// ErrClosed is returned by Enqueue after the connection has shut down.
var ErrClosed = errors.New("ws: connection closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one live websocket connection belonging to a single user.
// Outbound messages go through a bounded queue drained by WritePump, so
// a slow peer never blocks the hub's delivery loop.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, buffer int, maxMessageBytes int64, logger *slog.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	if maxMessageBytes > 0 {
		conn.SetReadLimit(maxMessageBytes)
	}
	return &Client{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  logger,
	}
}

// Enqueue queues payload for delivery without blocking.
func (c *Client) Enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close terminates the connection. Safe to call from any goroutine and
// any number of times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WritePump drains the outbound queue onto the wire, pinging the peer to
// detect dead TCP sessions. It exits when the connection closes or a
// write fails; every write carries a deadline so the pump cannot hang on
// an unresponsive peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket write failed", "error", err)
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

// ReadLoop consumes inbound text messages in arrival order, invoking
// handle for each one. It returns when the peer disconnects, the read
// fails, or Close is called; closing the underlying connection unblocks
// a pending read.
func (c *Client) ReadLoop(handle func(payload []byte)) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(payload)
	}
}
