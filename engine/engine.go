package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/flow"
	"github.com/casemesh-ai/casemesh/logging"
	"github.com/casemesh-ai/casemesh/model"
	"github.com/casemesh-ai/casemesh/session"
	"github.com/casemesh-ai/casemesh/stream"
	"github.com/casemesh-ai/casemesh/tool"
)

// Config defines tuning parameters for the Engine's operational behavior.
type Config struct {
	// MaxConcurrentRuns limits the number of runs that can execute
	// simultaneously across all threads. Zero means unlimited.
	MaxConcurrentRuns int

	// EventBuffer sets the per-subscriber channel buffer on the event bus.
	// Larger buffers reduce publisher blocking under slow subscribers.
	EventBuffer int

	// Instructions is the system prompt handed to the model on every turn.
	Instructions string

	// MaxTurns bounds model turns (initial plus continuations) per exchange.
	MaxTurns int
}

// DefaultConfig provides production-ready defaults: a conservative run bound,
// loop turn guard, and a buffer sized for interactive streaming.
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	EventBuffer:       100,
	MaxTurns:          flow.DefaultMaxTurns,
}

// Options configures an Engine instance using the functional options pattern.
// All service dependencies default to in-memory implementations so the engine
// is usable without external infrastructure.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Threads manages thread records and append-only message history.
	// Defaults to an in-memory implementation.
	Threads core.ThreadStore

	// Tools is the executor registry exposed to the model.
	Tools *tool.Registry

	// Hooks observe run lifecycle transitions (logging, metrics).
	Hooks []Hook

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine coordinates runs: one Tool Call Loop goroutine per logical exchange,
// events fanned out through the bus, at most one active run per thread.
type Engine struct {
	model   model.Model
	tools   *tool.Registry
	threads core.ThreadStore
	bus     *stream.Bus
	hooks   *hookSet
	logger  logging.Logger
	config  Config
	loop    *flow.Loop

	mu           sync.Mutex
	activeByRun  map[string]*activeRun
	activeByThrd map[string]string // thread id -> run id
	runningCount int
}

type activeRun struct {
	threadID string
	cancel   context.CancelFunc
}

// New creates an Engine driving the given model. Service dependencies default
// to in-memory implementations; override them via functional options.
func New(m model.Model, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:  DefaultConfig,
		Threads: session.NewInMemoryStore(),
		Tools:   tool.NewRegistry(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.EventBuffer <= 0 {
		opts.Config.EventBuffer = DefaultConfig.EventBuffer
	}
	if opts.Config.MaxTurns <= 0 {
		opts.Config.MaxTurns = DefaultConfig.MaxTurns
	}

	loop := flow.NewLoop(m, opts.Tools, func(o *flow.Options) {
		o.Instructions = opts.Config.Instructions
		o.MaxTurns = opts.Config.MaxTurns
	})

	return &Engine{
		model:        m,
		tools:        opts.Tools,
		threads:      opts.Threads,
		bus:          stream.NewBus(func(o *stream.Options) { o.Buffer = opts.Config.EventBuffer; o.Logger = opts.Logger }),
		hooks:        newHookSet(opts.Hooks),
		logger:       opts.Logger,
		config:       opts.Config,
		loop:         loop,
		activeByRun:  make(map[string]*activeRun),
		activeByThrd: make(map[string]string),
	}
}

// Tools exposes the executor registry for registration before runs start.
func (e *Engine) Tools() *tool.Registry { return e.tools }

// Threads exposes the thread store.
func (e *Engine) Threads() core.ThreadStore { return e.threads }

// Bus exposes the run event bus for additional subscribers (gateway, tests).
func (e *Engine) Bus() *stream.Bus { return e.bus }

// StartRun begins a new run on the thread with the given user message and
// returns the run id plus an ordered event subscription for it. The
// subscription channel closes after the run's terminal event. Delivery
// applies backpressure rather than dropping, so the caller must consume the
// subscription until it closes.
//
// At most one run is active per thread; a second StartRun while the first is
// in flight returns core.ErrRunActive. An empty threadID creates a new
// thread.
func (e *Engine) StartRun(ctx context.Context, threadID, userMessage string) (string, <-chan event.Event, error) {
	if threadID == "" {
		threadID = core.NewID()
	}
	if _, err := e.threads.Get(threadID); err != nil {
		return "", nil, fmt.Errorf("failed to get thread: %w", err)
	}

	runID := core.NewID()

	e.mu.Lock()
	if active, busy := e.activeByThrd[threadID]; busy {
		e.mu.Unlock()
		return "", nil, fmt.Errorf("thread %s has active run %s: %w", threadID, active, core.ErrRunActive)
	}
	if e.config.MaxConcurrentRuns > 0 && e.runningCount >= e.config.MaxConcurrentRuns {
		e.mu.Unlock()
		return "", nil, fmt.Errorf("engine at concurrent run limit %d", e.config.MaxConcurrentRuns)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.activeByRun[runID] = &activeRun{threadID: threadID, cancel: cancel}
	e.activeByThrd[threadID] = runID
	e.runningCount++
	e.mu.Unlock()

	if err := e.threads.AppendMessages(threadID, core.NewMessage(core.RoleUser, userMessage)); err != nil {
		cancel()
		e.release(runID, threadID)
		return "", nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	history, err := e.threads.History(threadID)
	if err != nil {
		cancel()
		e.release(runID, threadID)
		return "", nil, fmt.Errorf("failed to load thread history: %w", err)
	}

	events, cancelSub := e.bus.Subscribe(runID)

	run := core.NewRun(runID, threadID, history)
	rc := core.NewRunContext(runCtx, threadID, runID, run, e.threads, e.logger)

	e.hooks.runStarted(threadID, runID)
	e.logger.Info("engine.run.start", "thread_id", threadID, "run_id", runID)

	go func() {
		defer cancel()
		// A run that dies before any terminal event still closes its
		// subscription; after a delivered terminal event this is a no-op.
		defer cancelSub()
		err := e.loop.Execute(rc, e.bus.Publish)
		e.release(runID, threadID)
		if err != nil {
			e.hooks.runErrored(threadID, runID, err)
			e.logger.Warn("engine.run.error", "thread_id", threadID, "run_id", runID, "error", err.Error())
			// The loop emits its own terminal RunError; Abort covers the
			// case where emission itself failed and the stream is dangling.
			e.bus.Abort(runID, threadID, err.Error())
			return
		}
		e.hooks.runFinished(threadID, runID)
		e.logger.Info("engine.run.finish", "thread_id", threadID, "run_id", runID)
	}()

	return runID, events, nil
}

// CancelRun requests best-effort cancellation of an active run. In-flight
// model generation and executors observe context cancellation; the run then
// terminates with a synthetic RunError on its stream. Unknown or already
// finished run ids return core.ErrRunNotFound.
func (e *Engine) CancelRun(runID string) error {
	e.mu.Lock()
	active, ok := e.activeByRun[runID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", runID, core.ErrRunNotFound)
	}
	e.logger.Info("engine.run.cancel", "thread_id", active.threadID, "run_id", runID)
	active.cancel()
	return nil
}

// ActiveRun returns the id of the thread's active run, if any.
func (e *Engine) ActiveRun(threadID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.activeByThrd[threadID]
	return id, ok
}

func (e *Engine) release(runID, threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.activeByRun[runID]; !ok {
		return
	}
	delete(e.activeByRun, runID)
	if e.activeByThrd[threadID] == runID {
		delete(e.activeByThrd, threadID)
	}
	e.runningCount--
}
