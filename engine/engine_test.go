package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/model"
	"github.com/casemesh-ai/casemesh/tool"
)

func drain(t *testing.T, events <-chan event.Event) []event.Event {
	t.Helper()
	var out []event.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestEngineStartRunStreamsToCompletion(t *testing.T) {
	m := model.NewScriptedModel("test").AddTextTurn("Filed under contracts.")
	e := New(m)

	runID, events, err := e.StartRun(context.Background(), "thread-1", "classify this brief")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	got := drain(t, events)
	require.NotEmpty(t, got)
	assert.Equal(t, event.TypeRunStarted, got[0].Type())
	assert.Equal(t, event.TypeRunFinished, got[len(got)-1].Type())
	for _, ev := range got {
		assert.Equal(t, runID, ev.RunID())
	}

	history, err := e.Threads().History("thread-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
}

func TestEngineSingleActiveRunPerThread(t *testing.T) {
	block := make(chan struct{})
	registry := tool.NewRegistry()
	registry.Register(tool.NewFuncExecutor("wait", "blocks until released", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-block:
				return "ok", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	m := model.NewScriptedModel("test").
		AddToolCallTurn("call-1", "wait", `{}`).
		AddTextTurn("done")
	e := New(m, func(o *Options) { o.Tools = registry })

	_, events, err := e.StartRun(context.Background(), "thread-1", "first")
	require.NoError(t, err)

	_, _, err = e.StartRun(context.Background(), "thread-1", "second")
	require.ErrorIs(t, err, core.ErrRunActive)

	close(block)
	got := drain(t, events)
	assert.Equal(t, event.TypeRunFinished, got[len(got)-1].Type())

	// The thread frees up once the run terminates.
	require.Eventually(t, func() bool {
		_, busy := e.ActiveRun("thread-1")
		return !busy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineCancelRun(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	registry := tool.NewRegistry()
	registry.Register(tool.NewFuncExecutor("wait", "blocks until cancelled", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-block:
				return "ok", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	m := model.NewScriptedModel("test").AddToolCallTurn("call-1", "wait", `{}`)
	e := New(m, func(o *Options) { o.Tools = registry })

	runID, events, err := e.StartRun(context.Background(), "thread-1", "start then cancel")
	require.NoError(t, err)

	// Let the run reach the executor before cancelling.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.CancelRun(runID))

	got := drain(t, events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, event.TypeRunError, last.Type())

	// Bookkeeping clears once the run goroutine unwinds.
	require.Eventually(t, func() bool {
		return errors.Is(e.CancelRun(runID), core.ErrRunNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineCancelUnknownRun(t *testing.T) {
	e := New(model.NewScriptedModel("test"))
	assert.ErrorIs(t, e.CancelRun("no-such-run"), core.ErrRunNotFound)
}

func TestEngineConcurrentRunLimit(t *testing.T) {
	block := make(chan struct{})
	registry := tool.NewRegistry()
	registry.Register(tool.NewFuncExecutor("wait", "blocks until released", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			<-block
			return "ok", nil
		}))

	m := model.NewScriptedModel("test").
		AddToolCallTurn("call-1", "wait", `{}`).
		AddTextTurn("a")
	e := New(m, func(o *Options) {
		o.Tools = registry
		o.Config.MaxConcurrentRuns = 1
	})

	_, events, err := e.StartRun(context.Background(), "thread-1", "first")
	require.NoError(t, err)

	_, _, err = e.StartRun(context.Background(), "thread-2", "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run limit")

	close(block)
	drain(t, events)
}

type recordingHook struct {
	mu       sync.Mutex
	started  []string
	finished []string
	errored  []string
}

func (h *recordingHook) RunStarted(threadID, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, runID)
}

func (h *recordingHook) RunFinished(threadID, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, runID)
}

func (h *recordingHook) RunErrored(threadID, runID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errored = append(h.errored, runID)
}

func TestEngineHooksObserveLifecycle(t *testing.T) {
	hook := &recordingHook{}
	m := model.NewScriptedModel("test").AddTextTurn("fine")
	e := New(m, func(o *Options) { o.Hooks = []Hook{hook} })

	runID, events, err := e.StartRun(context.Background(), "thread-1", "hello")
	require.NoError(t, err)
	drain(t, events)

	require.Eventually(t, func() bool {
		hook.mu.Lock()
		defer hook.mu.Unlock()
		return len(hook.finished) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	assert.Equal(t, []string{runID}, hook.started)
	assert.Equal(t, []string{runID}, hook.finished)
	assert.Empty(t, hook.errored)
}

func TestEngineHooksObserveError(t *testing.T) {
	hook := &recordingHook{}
	m := model.NewScriptedModel("test") // empty script forces a model error
	e := New(m, func(o *Options) { o.Hooks = []Hook{hook} })

	_, events, err := e.StartRun(context.Background(), "thread-1", "hello")
	require.NoError(t, err)
	got := drain(t, events)
	assert.Equal(t, event.TypeRunError, got[len(got)-1].Type())

	require.Eventually(t, func() bool {
		hook.mu.Lock()
		defer hook.mu.Unlock()
		return len(hook.errored) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsHookCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := NewMetricsHook(reg)

	hook.RunStarted("t", "r1")
	hook.RunFinished("t", "r1")
	hook.RunStarted("t", "r2")
	hook.RunErrored("t", "r2", errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(hook.started))
	assert.Equal(t, float64(1), testutil.ToFloat64(hook.finished))
	assert.Equal(t, float64(1), testutil.ToFloat64(hook.errored))
	assert.Equal(t, float64(0), testutil.ToFloat64(hook.inFlight))
}
