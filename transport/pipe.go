package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPipeClosed is returned by pipe connections after either end closed.
var ErrPipeClosed = errors.New("pipe connection closed")

// pipeConn is one end of an in-process duplex pipe.
type pipeConn struct {
	send chan []byte
	recv chan []byte

	local  chan struct{}
	remote chan struct{}
	once   sync.Once
}

// NewPipe creates a connected pair of in-process connections. Frames written
// on one end are read on the other. Useful for tests and single-process
// wiring.
func NewPipe() (Conn, Conn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a := &pipeConn{send: ab, recv: ba, local: aClosed, remote: bClosed}
	b := &pipeConn{send: ba, recv: ab, local: bClosed, remote: aClosed}
	return a, b
}

func (c *pipeConn) WriteMessage(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case <-c.local:
		return ErrPipeClosed
	case <-c.remote:
		return ErrPipeClosed
	case c.send <- frame:
		return nil
	}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.local:
		return nil, ErrPipeClosed
	case <-c.remote:
		return nil, ErrPipeClosed
	case frame := <-c.recv:
		return frame, nil
	}
}

func (c *pipeConn) Ping() error {
	select {
	case <-c.local:
		return ErrPipeClosed
	case <-c.remote:
		return ErrPipeClosed
	default:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.local) })
	return nil
}

// PipeDialer hands out the client ends of fresh pipes and exposes the server
// ends on Accept. FailNext injects dial failures to exercise reconnect
// paths.
type PipeDialer struct {
	mu       sync.Mutex
	failures int

	accepted chan Conn
}

// NewPipeDialer creates a dialer with an accept backlog.
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{accepted: make(chan Conn, 16)}
}

// FailNext makes the next n Dial calls fail.
func (d *PipeDialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

// Dial implements Dialer.
func (d *PipeDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	d.mu.Unlock()

	client, server := NewPipe()
	select {
	case d.accepted <- server:
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
	return client, nil
}

// Accept returns the server end of the next dialed pipe.
func (d *PipeDialer) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-d.accepted:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
