package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/event"
)

func publishRun(t *testing.T, b *Bus, events ...event.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, b.Publish(ev))
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	publishRun(t, b,
		event.NewRunStarted("run-1", "thread-1"),
		event.NewTextMessageStart("run-1", "msg-1", "assistant"),
		event.NewTextMessageContent("run-1", "msg-1", "hi"),
		event.NewTextMessageEnd("run-1", "msg-1"),
		event.NewRunFinished("run-1", "thread-1"),
	)

	var types []event.Type
	for ev := range ch {
		types = append(types, ev.Type())
	}
	assert.Equal(t, []event.Type{
		event.TypeRunStarted,
		event.TypeTextMessageStart,
		event.TypeTextMessageContent,
		event.TypeTextMessageEnd,
		event.TypeRunFinished,
	}, types)
}

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe("run-1")
	ch2, cancel2 := b.Subscribe("run-1")
	defer cancel1()
	defer cancel2()

	publishRun(t, b,
		event.NewRunStarted("run-1", ""),
		event.NewRunFinished("run-1", ""),
	)

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, ch := range []<-chan event.Event{ch1, ch2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
				counts[i]++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []int{2, 2}, counts)
}

func TestBusRejectsEventsBeforeRunStarted(t *testing.T) {
	b := NewBus()
	err := b.Publish(event.NewTextMessageStart("run-1", "msg-1", "assistant"))

	var perr *core.RunProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "run-1", perr.RunID)
}

func TestBusRejectsDuplicateRunStarted(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Publish(event.NewRunStarted("run-1", "")))

	var perr *core.RunProtocolError
	require.ErrorAs(t, b.Publish(event.NewRunStarted("run-1", "")), &perr)
}

func TestBusClosesSubscribersOnTerminalEvent(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	publishRun(t, b,
		event.NewRunStarted("run-1", ""),
		event.NewRunError("run-1", "", "model unreachable"),
	)

	<-ch // run_started
	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, event.TypeRunError, ev.Type())
	_, ok = <-ch
	assert.False(t, ok, "channel stays open after terminal event")

	var perr *core.RunProtocolError
	require.ErrorAs(t, b.Publish(event.NewTextMessageEnd("run-1", "msg-1")), &perr)
	assert.False(t, b.Active("run-1"))
}

func TestBusSubscribeCancelDetaches(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("run-1")
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after detach must not block on the cancelled subscriber.
	require.NoError(t, b.Publish(event.NewRunStarted("run-1", "")))
	require.NoError(t, b.Publish(event.NewRunFinished("run-1", "")))
}

func TestBusCancelUnblocksPendingPublish(t *testing.T) {
	b := NewBus(func(o *Options) { o.Buffer = 1 })
	_, cancel := b.Subscribe("run-1")

	// Fill the subscriber buffer so the next delivery blocks.
	require.NoError(t, b.Publish(event.NewRunStarted("run-1", "")))

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(event.NewTextMessageStart("run-1", "msg-1", "assistant"))
	}()

	// Let the publisher reach the blocked send before detaching.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after subscriber cancelled")
	}

	// The run stays publishable for remaining subscribers (none here).
	require.NoError(t, b.Publish(event.NewTextMessageEnd("run-1", "msg-1")))
	require.NoError(t, b.Publish(event.NewRunFinished("run-1", "")))
}

func TestBusAbortEmitsRunError(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	require.NoError(t, b.Publish(event.NewRunStarted("run-1", "thread-1")))
	b.Abort("run-1", "thread-1", "producer died")

	<-ch // run_started
	ev, ok := <-ch
	require.True(t, ok)
	rerr, ok := ev.(event.RunError)
	require.True(t, ok)
	assert.Equal(t, "producer died", rerr.Message)
}

func TestBusAbortIsNoOpForFinishedRun(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Publish(event.NewRunStarted("run-1", "")))
	require.NoError(t, b.Publish(event.NewRunFinished("run-1", "")))

	b.Abort("run-1", "", "too late")
	b.Abort("run-2", "", "never started")
}

func TestBusRejectsEventWithoutRunID(t *testing.T) {
	b := NewBus()
	var perr *core.RunProtocolError
	require.ErrorAs(t, b.Publish(event.NewRunStarted("", "")), &perr)
}

func TestBusIsolatesRuns(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe("run-1")
	ch2, cancel2 := b.Subscribe("run-2")
	defer cancel1()
	defer cancel2()

	publishRun(t, b,
		event.NewRunStarted("run-1", ""),
		event.NewRunFinished("run-1", ""),
	)
	publishRun(t, b,
		event.NewRunStarted("run-2", ""),
		event.NewRunFinished("run-2", ""),
	)

	for ev := range ch1 {
		assert.Equal(t, "run-1", ev.RunID())
	}
	for ev := range ch2 {
		assert.Equal(t, "run-2", ev.RunID())
	}
}
