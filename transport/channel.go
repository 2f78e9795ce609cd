package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/logging"
)

// ErrChannelClosed is returned by Send after Close or terminal failure.
var ErrChannelClosed = errors.New("transport channel closed")

// Defaults applied by NewChannel when the corresponding option is unset.
const (
	DefaultReconnectBase = 250 * time.Millisecond
	DefaultMaxAttempts   = 5
	DefaultHeartbeat     = 30 * time.Second
	DefaultInboundBuffer = 64
)

// Options configures a Channel.
type Options struct {
	// ReconnectBase is the backoff base: the nth consecutive failed attempt
	// waits base * 2^(n-1) before the next dial.
	ReconnectBase time.Duration

	// MaxAttempts bounds consecutive failed dials before the channel fails
	// terminally with core.ConnectionError.
	MaxAttempts int

	// Heartbeat is the ping interval while connected. A failed ping drops
	// the connection and triggers reconnection.
	Heartbeat time.Duration

	// InboundBuffer sizes the received-frame channel.
	InboundBuffer int

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Channel is the logical duplex frame channel of one thread. Send never
// fails on a transient disconnect: frames queue FIFO and flush in original
// order once the dialer reconnects. The channel dies only on Close or on an
// exhausted reconnect budget.
type Channel struct {
	dialer   Dialer
	addr     string
	threadID string
	opts     Options

	queue   *fifo
	pending chan struct{}
	inbound chan []byte

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// NewChannel creates a channel for one thread. Connect starts it.
func NewChannel(dialer Dialer, addr, threadID string, optFns ...func(o *Options)) *Channel {
	opts := Options{
		ReconnectBase: DefaultReconnectBase,
		MaxAttempts:   DefaultMaxAttempts,
		Heartbeat:     DefaultHeartbeat,
		InboundBuffer: DefaultInboundBuffer,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = DefaultInboundBuffer
	}
	return &Channel{
		dialer:   dialer,
		addr:     addr,
		threadID: threadID,
		opts:     opts,
		queue:    newFIFO(),
		pending:  make(chan struct{}, 1),
		inbound:  make(chan []byte, opts.InboundBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ThreadID returns the thread this channel serves.
func (c *Channel) ThreadID() string { return c.threadID }

// Connect starts the channel's connection manager. It returns immediately;
// connection state is observable through Done and Err.
func (c *Channel) Connect(ctx context.Context) {
	go c.run(ctx)
}

// Send queues one frame for delivery. While connected it is flushed
// promptly; while disconnected it waits in the FIFO queue. Send fails only
// after Close or terminal connection failure.
func (c *Channel) Send(frame []byte) error {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrChannelClosed
	default:
	}
	c.queue.push(frame)
	c.wake()
	return nil
}

// Receive returns the inbound frame stream. The channel closes when the
// Channel dies.
func (c *Channel) Receive() <-chan []byte { return c.inbound }

// Done closes when the channel has terminated, by Close or by terminal
// failure.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the terminal error, if the channel failed. Nil after a clean
// Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// QueueLen reports frames waiting for delivery.
func (c *Channel) QueueLen() int { return c.queue.len() }

// Close shuts the channel down. Queued frames are dropped.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
	<-c.done
}

func (c *Channel) wake() {
	select {
	case c.pending <- struct{}{}:
	default:
	}
}

// run is the connection manager: dial with backoff, serve until the
// connection drops, repeat. Exits on Close, context cancellation, or an
// exhausted dial budget.
func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.inbound)

	attempt := 0
	for {
		select {
		case <-c.closing:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := c.dialer.Dial(ctx, c.addr)
		if err != nil {
			attempt++
			c.opts.Logger.Warn("transport.dial.failed",
				"thread_id", c.threadID, "attempt", attempt, "error", err.Error())
			if attempt >= c.opts.MaxAttempts {
				c.fail(&core.ConnectionError{Attempts: attempt, Err: err})
				return
			}
			delay := c.opts.ReconnectBase * (1 << (attempt - 1))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-c.closing:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
			continue
		}

		attempt = 0
		c.opts.Logger.Info("transport.connected", "thread_id", c.threadID)
		c.serve(ctx, conn)
		c.opts.Logger.Info("transport.disconnected", "thread_id", c.threadID)
	}
}

// serve pumps one live connection: flushes the queue, forwards inbound
// frames, and heartbeats. Returns when the connection becomes unusable or
// the channel is shutting down.
func (c *Channel) serve(ctx context.Context, conn Conn) {
	readerDone := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		defer close(readerDone)
		for {
			frame, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case c.inbound <- frame:
			case <-c.closing:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// The reader is joined before serve returns, so when run finally closes
	// c.inbound no goroutine can still be sending on it. Closing the
	// connection first unblocks a reader stuck in ReadMessage.
	defer func() {
		conn.Close()
		<-readerDone
	}()

	heartbeat := time.NewTicker(c.opts.Heartbeat)
	defer heartbeat.Stop()

	// Anything queued while disconnected goes out first, in order.
	if err := c.flush(conn); err != nil {
		return
	}

	for {
		select {
		case <-c.closing:
			return
		case <-ctx.Done():
			return
		case err := <-readErr:
			c.opts.Logger.Warn("transport.read.failed", "thread_id", c.threadID, "error", err.Error())
			return
		case <-c.pending:
			if err := c.flush(conn); err != nil {
				c.opts.Logger.Warn("transport.write.failed", "thread_id", c.threadID, "error", err.Error())
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(); err != nil {
				c.opts.Logger.Warn("transport.heartbeat.failed", "thread_id", c.threadID, "error", err.Error())
				return
			}
		}
	}
}

// flush writes queued frames in order. A frame leaves the queue only after
// its write succeeded, so a mid-flush drop retains the remainder for the
// next connection.
func (c *Channel) flush(conn Conn) error {
	for {
		frame, ok := c.queue.peek()
		if !ok {
			return nil
		}
		if err := conn.WriteMessage(frame); err != nil {
			return err
		}
		c.queue.pop()
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.opts.Logger.Error("transport.failed", "thread_id", c.threadID, "error", err.Error())
}

// fifo is the unbounded in-order outbound queue.
type fifo struct {
	mu     sync.Mutex
	frames [][]byte
}

func newFIFO() *fifo { return &fifo{} }

func (q *fifo) push(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append(q.frames, buf)
}

func (q *fifo) peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil, false
	}
	return q.frames[0], true
}

func (q *fifo) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) > 0 {
		q.frames = q.frames[1:]
	}
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
