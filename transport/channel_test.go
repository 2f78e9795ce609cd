package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemesh-ai/casemesh/core"
)

func fastChannel(d Dialer, optFns ...func(o *Options)) *Channel {
	base := func(o *Options) {
		o.ReconnectBase = time.Millisecond
		o.Heartbeat = time.Hour // keep heartbeats out of tests that don't want them
	}
	return NewChannel(d, "pipe://test", "thread-1", append([]func(o *Options){base}, optFns...)...)
}

func readFrames(t *testing.T, conn Conn, n int) []string {
	t.Helper()
	frames := make([]string, 0, n)
	for i := 0; i < n; i++ {
		frame, err := conn.ReadMessage()
		require.NoError(t, err)
		frames = append(frames, string(frame))
	}
	return frames
}

func TestChannelSendAndReceive(t *testing.T) {
	dialer := NewPipeDialer()
	ch := fastChannel(dialer)
	ch.Connect(context.Background())
	defer ch.Close()

	server, err := dialer.Accept(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.Send([]byte(`{"type":"ping"}`)))
	frames := readFrames(t, server, 1)
	assert.Equal(t, `{"type":"ping"}`, frames[0])

	require.NoError(t, server.WriteMessage([]byte(`{"type":"run_started"}`)))
	select {
	case frame := <-ch.Receive():
		assert.Equal(t, `{"type":"run_started"}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestChannelQueuesWhileDisconnectedAndFlushesInOrder(t *testing.T) {
	dialer := NewPipeDialer()
	dialer.FailNext(2)

	ch := fastChannel(dialer, func(o *Options) { o.MaxAttempts = 10 })
	// Queue before the channel ever connects.
	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Send([]byte(fmt.Sprintf("frame-%d", i))))
	}
	assert.Equal(t, 5, ch.QueueLen())

	ch.Connect(context.Background())
	defer ch.Close()

	server, err := dialer.Accept(context.Background())
	require.NoError(t, err)

	frames := readFrames(t, server, 5)
	assert.Equal(t, []string{"frame-0", "frame-1", "frame-2", "frame-3", "frame-4"}, frames)
	assert.Equal(t, 0, ch.QueueLen())
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	dialer := NewPipeDialer()
	ch := fastChannel(dialer, func(o *Options) { o.MaxAttempts = 10 })
	ch.Connect(context.Background())
	defer ch.Close()

	server1, err := dialer.Accept(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.Send([]byte("before-drop")))
	readFrames(t, server1, 1)

	// Drop the connection; frames sent meanwhile queue and flush on the
	// next connection, in order.
	server1.Close()
	require.NoError(t, ch.Send([]byte("during-outage-1")))
	require.NoError(t, ch.Send([]byte("during-outage-2")))

	server2, err := dialer.Accept(context.Background())
	require.NoError(t, err)
	frames := readFrames(t, server2, 2)
	assert.Equal(t, []string{"during-outage-1", "during-outage-2"}, frames)
}

func TestChannelFailsTerminallyAfterBudget(t *testing.T) {
	dialer := NewPipeDialer()
	dialer.FailNext(100)

	ch := fastChannel(dialer, func(o *Options) { o.MaxAttempts = 3 })
	ch.Connect(context.Background())

	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not fail within deadline")
	}

	var connErr *core.ConnectionError
	require.ErrorAs(t, ch.Err(), &connErr)
	assert.Equal(t, 3, connErr.Attempts)

	// Send after terminal failure surfaces the same condition.
	assert.ErrorAs(t, ch.Send([]byte("late")), &connErr)
}

func TestChannelBackoffIsExponential(t *testing.T) {
	dialer := NewPipeDialer()
	dialer.FailNext(3)

	start := time.Now()
	ch := fastChannel(dialer, func(o *Options) {
		o.ReconnectBase = 20 * time.Millisecond
		o.MaxAttempts = 10
	})
	ch.Connect(context.Background())
	defer ch.Close()

	_, err := dialer.Accept(context.Background())
	require.NoError(t, err)

	// Three failures wait 20 + 40 + 80 = 140ms before the fourth dial.
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestChannelHeartbeatFailureTriggersReconnect(t *testing.T) {
	dialer := NewPipeDialer()
	ch := fastChannel(dialer, func(o *Options) {
		o.Heartbeat = 10 * time.Millisecond
		o.MaxAttempts = 10
	})
	ch.Connect(context.Background())
	defer ch.Close()

	server1, err := dialer.Accept(context.Background())
	require.NoError(t, err)

	// Closing the server end makes the next ping fail; the channel must
	// come back through the dialer.
	server1.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server2, err := dialer.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, ch.Send([]byte("after-reconnect")))
	frames := readFrames(t, server2, 1)
	assert.Equal(t, "after-reconnect", frames[0])
}

func TestChannelCloseStopsEverything(t *testing.T) {
	dialer := NewPipeDialer()
	ch := fastChannel(dialer)
	ch.Connect(context.Background())

	_, err := dialer.Accept(context.Background())
	require.NoError(t, err)

	ch.Close()
	assert.NoError(t, ch.Err())

	_, open := <-ch.Receive()
	assert.False(t, open)
	assert.ErrorIs(t, ch.Send([]byte("late")), ErrChannelClosed)
}

func TestChannelCloseDuringInboundTraffic(t *testing.T) {
	// Shutdown racing a busy reader: the inbound stream must close cleanly,
	// with no send landing on it after the close.
	for i := 0; i < 25; i++ {
		dialer := NewPipeDialer()
		ch := fastChannel(dialer)
		ch.Connect(context.Background())

		server, err := dialer.Accept(context.Background())
		require.NoError(t, err)

		go func() {
			for n := 0; ; n++ {
				// Write errors once the channel closes its end.
				if server.WriteMessage([]byte(fmt.Sprintf("frame-%d", n))) != nil {
					return
				}
			}
		}()

		// Take one frame so the reader is mid-flight, then shut down.
		select {
		case <-ch.Receive():
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for inbound traffic")
		}
		ch.Close()

		for range ch.Receive() {
		}
		assert.NoError(t, ch.Err())
	}
}

func TestPipeConnBothEndsObserveClose(t *testing.T) {
	a, b := NewPipe()
	require.NoError(t, a.WriteMessage([]byte("x")))
	frame, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "x", string(frame))

	a.Close()
	_, err = b.ReadMessage()
	assert.ErrorIs(t, err, ErrPipeClosed)
	assert.ErrorIs(t, b.WriteMessage([]byte("y")), ErrPipeClosed)
	assert.ErrorIs(t, a.Ping(), ErrPipeClosed)
}
