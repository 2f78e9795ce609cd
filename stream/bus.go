package stream

import (
	"fmt"
	"sync"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/logging"
)

// DefaultSubscriberBuffer is the per-subscriber channel buffer used when the
// bus is constructed with a non-positive buffer size.
const DefaultSubscriberBuffer = 100

// Bus serializes the event stream of each Run to its subscribers.
//
// Guarantees:
//   - Events are delivered to every subscriber in publication order.
//   - The first event accepted for a run is RunStarted; anything else is
//     rejected as a protocol violation.
//   - Exactly one terminal event is accepted per run; publications after it
//     are rejected and subscriber channels are closed.
//
// Delivery blocks on a full subscriber buffer rather than dropping or
// reordering: ordering is part of the protocol contract, backpressure is the
// subscriber's problem to size away via Options.Buffer.
type Bus struct {
	buffer int
	logger logging.Logger

	mu   sync.Mutex
	runs map[string]*busRun
}

type busRun struct {
	started  bool
	finished bool
	subs     []*subscriber
}

// subscriber owns one delivery channel. Sends and channel closure are
// serialized through mu so a cancel racing a blocked Publish can never close
// the channel mid-send.
type subscriber struct {
	ch   chan event.Event
	done chan struct{}

	mu       sync.Mutex
	detached bool
}

// deliver sends ev unless the subscriber has detached. A detach concurrent
// with a blocked send unblocks it through done.
func (s *subscriber) deliver(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

// detach marks the subscriber dead and closes its channel. Callers racing an
// in-flight deliver must close done first so the send unblocks before the
// channel is closed.
func (s *subscriber) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	close(s.ch)
}

// Options configures a Bus.
type Options struct {
	// Buffer sets the per-subscriber channel buffer size.
	Buffer int
	// Logger receives delivery diagnostics. Defaults to NoOp.
	Logger logging.Logger
}

// NewBus constructs an event bus.
func NewBus(optFns ...func(o *Options)) *Bus {
	opts := Options{Buffer: DefaultSubscriberBuffer, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultSubscriberBuffer
	}
	return &Bus{buffer: opts.Buffer, logger: opts.Logger, runs: make(map[string]*busRun)}
}

// Subscribe registers interest in the events of one run. It must be called
// before the run's first event is published; events published earlier are not
// replayed. The returned cancel function detaches and closes the channel; it
// is safe to call while a publication to the subscriber is in flight.
func (b *Bus) Subscribe(runID string) (<-chan event.Event, func()) {
	sub := &subscriber{ch: make(chan event.Event, b.buffer), done: make(chan struct{})}

	b.mu.Lock()
	r := b.run(runID)
	if r.finished {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	r.subs = append(r.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Closing done first unblocks a Publish stuck sending to this
			// subscriber before detach takes the send lock.
			close(sub.done)
			b.mu.Lock()
			if r, ok := b.runs[runID]; ok {
				for i, s := range r.subs {
					if s == sub {
						r.subs = append(r.subs[:i], r.subs[i+1:]...)
						break
					}
				}
			}
			b.mu.Unlock()
			sub.detach()
		})
	}
	return sub.ch, cancel
}

// Publish delivers one event to all subscribers of its run, in order.
func (b *Bus) Publish(ev event.Event) error {
	runID := ev.RunID()
	if runID == "" {
		return &core.RunProtocolError{Reason: "event without run id"}
	}

	b.mu.Lock()
	r := b.run(runID)
	if r.finished {
		b.mu.Unlock()
		return &core.RunProtocolError{RunID: runID, Reason: fmt.Sprintf("event %s after terminal event", ev.Type())}
	}
	if !r.started {
		if ev.Type() != event.TypeRunStarted {
			b.mu.Unlock()
			return &core.RunProtocolError{RunID: runID, Reason: fmt.Sprintf("first event is %s, want %s", ev.Type(), event.TypeRunStarted)}
		}
		r.started = true
	} else if ev.Type() == event.TypeRunStarted {
		b.mu.Unlock()
		return &core.RunProtocolError{RunID: runID, Reason: "duplicate run_started"}
	}

	terminal := event.Terminal(ev.Type())
	if terminal {
		r.finished = true
	}
	// Snapshot subscribers so delivery happens outside the lock. The bus lock
	// still serializes Publish calls per run via the caller (single emitter
	// per run), preserving order.
	subs := make([]*subscriber, len(r.subs))
	copy(subs, r.subs)
	if terminal {
		r.subs = nil
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
	if terminal {
		for _, sub := range subs {
			sub.detach()
		}
		b.mu.Lock()
		delete(b.runs, runID)
		b.mu.Unlock()
		b.logger.Debug("bus.run.closed", "run_id", runID, "terminal", string(ev.Type()))
	}
	return nil
}

// Abort emits a synthetic RunError for a run whose underlying transport or
// producer died mid-stream, so local subscribers are not left waiting on an
// open run. It is a no-op for runs that already terminated or never started.
func (b *Bus) Abort(runID, threadID, reason string) {
	b.mu.Lock()
	r, ok := b.runs[runID]
	active := ok && r.started && !r.finished
	b.mu.Unlock()
	if !active {
		return
	}
	if err := b.Publish(event.NewRunError(runID, threadID, reason)); err != nil {
		b.logger.Warn("bus.abort.publish", "run_id", runID, "error", err.Error())
	}
}

// Active reports whether the run has started and not yet terminated.
func (b *Bus) Active(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.runs[runID]
	return ok && r.started && !r.finished
}

// run returns the tracking record for runID, creating it if absent. Caller
// holds b.mu.
func (b *Bus) run(runID string) *busRun {
	r, ok := b.runs[runID]
	if !ok {
		r = &busRun{}
		b.runs[runID] = r
	}
	return r
}
