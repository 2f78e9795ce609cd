package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemesh-ai/casemesh/core"
)

func fastRetries(o *Options) {
	o.RetryBase = time.Millisecond
	o.RetryFactor = 2
}

func TestDispatchAllSucceed(t *testing.T) {
	s := New(fastRetries)
	s.Register(NewWorkerFunc("search", func(ctx context.Context, task *Task) (map[string]any, error) {
		return map[string]any{"hits": task.Parameters["query"]}, nil
	}))

	tasks := []*Task{
		NewTask("search", map[string]any{"query": "easements"}),
		NewTask("search", map[string]any{"query": "riparian rights"}),
	}
	results, err := s.Dispatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, r := range results {
		assert.Equal(t, tasks[i].ID, r.TaskID)
		assert.Equal(t, TaskSucceeded, r.Status)
		assert.Equal(t, TaskSucceeded, tasks[i].Status())
		assert.Equal(t, 1, tasks[i].AttemptCount())
	}
	assert.Equal(t, "easements", results[0].Output["hits"])
}

func TestDispatchRetryCountLaw(t *testing.T) {
	var attempts atomic.Int32
	s := New(fastRetries, func(o *Options) { o.RetryAttempts = 3 })
	s.Register(NewWorkerFunc("flaky", func(ctx context.Context, task *Task) (map[string]any, error) {
		attempts.Add(1)
		return nil, fmt.Errorf("transient failure")
	}))

	results, err := s.Dispatch(context.Background(), []*Task{NewTask("flaky", nil)})
	require.NoError(t, err)

	// RetryAttempts is the total attempt budget: 3 invocations, then failed.
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, TaskFailed, results[0].Status)

	var execErr *core.TaskExecutionError
	require.ErrorAs(t, results[0].Err, &execErr)
	assert.Equal(t, 3, execErr.Attempts)
}

func TestDispatchSucceedsAfterRetry(t *testing.T) {
	var attempts atomic.Int32
	s := New(fastRetries, func(o *Options) { o.RetryAttempts = 3 })
	s.Register(NewWorkerFunc("flaky", func(ctx context.Context, task *Task) (map[string]any, error) {
		if attempts.Add(1) < 3 {
			return nil, fmt.Errorf("transient failure")
		}
		return map[string]any{"ok": true}, nil
	}))

	results, err := s.Dispatch(context.Background(), []*Task{NewTask("flaky", nil)})
	require.NoError(t, err)
	assert.Equal(t, TaskSucceeded, results[0].Status)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDispatchPermanentErrorSkipsRetry(t *testing.T) {
	var attempts atomic.Int32
	s := New(fastRetries, func(o *Options) { o.RetryAttempts = 5 })
	s.Register(NewWorkerFunc("broken", func(ctx context.Context, task *Task) (map[string]any, error) {
		attempts.Add(1)
		return nil, Permanent(fmt.Errorf("malformed parameters"))
	}))

	results, err := s.Dispatch(context.Background(), []*Task{NewTask("broken", nil)})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results[0].Status)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDispatchUnknownWorkerType(t *testing.T) {
	s := New(fastRetries)
	results, err := s.Dispatch(context.Background(), []*Task{NewTask("nonexistent", nil)})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "no worker registered")
}

func TestDispatchTimeoutRetriedThenFailed(t *testing.T) {
	var notifications []Notification
	var mu sync.Mutex
	s := New(fastRetries, func(o *Options) {
		o.RetryAttempts = 2
		o.TaskTimeout = 20 * time.Millisecond
		o.Notifier = func(n Notification) {
			mu.Lock()
			defer mu.Unlock()
			notifications = append(notifications, n)
		}
	})
	s.Register(NewWorkerFunc("hang", func(ctx context.Context, task *Task) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	results, err := s.Dispatch(context.Background(), []*Task{NewTask("hang", nil)})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results[0].Status)

	var timeoutErr *core.TaskTimeoutError
	require.ErrorAs(t, results[0].Err, &timeoutErr)
	assert.Equal(t, "hang", timeoutErr.TaskType)

	var execErr *core.TaskExecutionError
	require.ErrorAs(t, results[0].Err, &execErr)
	assert.Equal(t, 2, execErr.Attempts)

	mu.Lock()
	defer mu.Unlock()
	kinds := make([]NotificationKind, 0, len(notifications))
	for _, n := range notifications {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []NotificationKind{
		NotifyStarted, NotifyTimedOut, NotifyRetrying,
		NotifyStarted, NotifyTimedOut, NotifyFailed,
	}, kinds)
}

func TestDispatchTimeoutAgainstUncooperativeWorker(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s := New(fastRetries, func(o *Options) {
		o.RetryAttempts = 1
		o.TaskTimeout = 20 * time.Millisecond
	})
	s.Register(NewWorkerFunc("stubborn", func(ctx context.Context, task *Task) (map[string]any, error) {
		// Ignores cancellation entirely.
		<-release
		return map[string]any{}, nil
	}))

	start := time.Now()
	results, err := s.Dispatch(context.Background(), []*Task{NewTask("stubborn", nil)})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results[0].Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDispatchPartialResultsRetained(t *testing.T) {
	s := New(fastRetries, func(o *Options) { o.RetryAttempts = 1 })
	s.Register(NewWorkerFunc("search", func(ctx context.Context, task *Task) (map[string]any, error) {
		return map[string]any{"hits": 3}, nil
	}))
	s.Register(NewWorkerFunc("boom", func(ctx context.Context, task *Task) (map[string]any, error) {
		return nil, fmt.Errorf("upstream unavailable")
	}))

	results, err := s.Dispatch(context.Background(), []*Task{
		NewTask("search", nil),
		NewTask("boom", nil),
		NewTask("search", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, TaskSucceeded, results[0].Status)
	assert.Equal(t, TaskFailed, results[1].Status)
	assert.Equal(t, TaskSucceeded, results[2].Status)
	assert.Equal(t, 3, results[2].Output["hits"])
}

func TestDispatchConcurrencyBound(t *testing.T) {
	const bound = 3
	var running, peak atomic.Int32

	s := New(fastRetries, func(o *Options) { o.MaxConcurrent = bound })
	s.Register(NewWorkerFunc("load", func(ctx context.Context, task *Task) (map[string]any, error) {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(time.Duration(1+now%4) * time.Millisecond)
		running.Add(-1)
		return map[string]any{}, nil
	}))

	// Randomized pressure: several dispatch batches racing on one scheduler.
	var wg sync.WaitGroup
	for b := 0; b < 4; b++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks := make([]*Task, 10)
			for i := range tasks {
				tasks[i] = NewTask("load", nil)
			}
			_, err := s.Dispatch(context.Background(), tasks)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(bound))
}

func TestDispatchContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(fastRetries)
	s.Register(NewWorkerFunc("wait", func(ctx context.Context, task *Task) (map[string]any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	results, err := s.Dispatch(ctx, []*Task{NewTask("wait", nil)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TaskFailed, results[0].Status)
}

func TestDispatchWorkerPanicIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	s := New(fastRetries, func(o *Options) { o.RetryAttempts = 3 })
	s.Register(NewWorkerFunc("panicky", func(ctx context.Context, task *Task) (map[string]any, error) {
		attempts.Add(1)
		panic("nil map write")
	}))

	results, err := s.Dispatch(context.Background(), []*Task{NewTask("panicky", nil)})
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, results[0].Status)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Contains(t, results[0].Error, "worker panic")
}

func TestNextDelayExponential(t *testing.T) {
	s := New(func(o *Options) {
		o.RetryBase = 100 * time.Millisecond
		o.RetryFactor = 2
	})
	assert.Equal(t, 100*time.Millisecond, s.nextDelay(1))
	assert.Equal(t, 200*time.Millisecond, s.nextDelay(2))
	assert.Equal(t, 400*time.Millisecond, s.nextDelay(3))
}

func TestPermanentWrapsNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
}
