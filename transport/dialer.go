package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live connection. Implementations are used by a single Channel
// and need not be safe for concurrent writers; the Channel serializes sends.
type Conn interface {
	// WriteMessage sends one frame.
	WriteMessage(data []byte) error

	// ReadMessage blocks for the next frame. It returns an error when the
	// connection is no longer usable.
	ReadMessage() ([]byte, error)

	// Ping sends a transport-level liveness probe.
	Ping() error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes connections for a Channel.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// WebsocketDialer dials websocket endpoints.
type WebsocketDialer struct {
	// Header is attached to the upgrade request (auth tokens etc).
	Header http.Header

	// HandshakeTimeout bounds the upgrade. Defaults to 10s.
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, addr, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: status %d: %w", addr, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", addr, err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla websocket connection to Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
