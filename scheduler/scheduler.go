package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/logging"
)

// Defaults applied by New when the corresponding option is unset.
const (
	DefaultMaxConcurrent = 4
	DefaultTaskTimeout   = 2 * time.Minute
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 500 * time.Millisecond
	DefaultRetryFactor   = 2.0
)

// Options configures a Scheduler.
type Options struct {
	// MaxConcurrent bounds tasks in Running status across all dispatches
	// sharing this scheduler instance.
	MaxConcurrent int

	// TaskTimeout is the default per-attempt deadline. A task's own Timeout
	// field overrides it when positive.
	TaskTimeout time.Duration

	// RetryAttempts is the total attempt budget per task: a persistently
	// failing task runs RetryAttempts times and is then marked failed.
	// Values below 1 are treated as a single attempt.
	RetryAttempts int

	// RetryBase and RetryFactor shape the backoff:
	// delay(n) = RetryBase * RetryFactor^(n-1) for the nth retry.
	RetryBase   time.Duration
	RetryFactor float64

	// Notifier receives progress notifications. Nil disables them.
	Notifier Notifier

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Scheduler dispatches task batches to registered workers. Safe for
// concurrent use; the concurrency bound is shared across all callers.
type Scheduler struct {
	opts Options
	sem  *semaphore.Weighted

	mu      sync.RWMutex
	workers map[string]Worker
}

// New constructs a Scheduler.
func New(optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		MaxConcurrent: DefaultMaxConcurrent,
		TaskTimeout:   DefaultTaskTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryBase:     DefaultRetryBase,
		RetryFactor:   DefaultRetryFactor,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.RetryFactor < 1 {
		opts.RetryFactor = DefaultRetryFactor
	}
	return &Scheduler{
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		workers: make(map[string]Worker),
	}
}

// Register adds a worker, replacing any previous worker of the same type.
func (s *Scheduler) Register(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.Type()] = w
}

// worker returns the registered worker for a task type.
func (s *Scheduler) worker(taskType string) (Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[taskType]
	return w, ok
}

// Dispatch executes the batch and returns when every task is terminal. The
// result slice is index-aligned with tasks; already-succeeded results are
// retained even when siblings fail. The error is non-nil only when the
// context is cancelled before the batch resolves; per-task failures live in
// their Result entries.
func (s *Scheduler) Dispatch(ctx context.Context, tasks []*Task) ([]Result, error) {
	results := make([]Result, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.runTask(ctx, task)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// runTask drives one task to a terminal status through its attempt loop.
func (s *Scheduler) runTask(ctx context.Context, task *Task) Result {
	maxAttempts := s.opts.RetryAttempts

	var lastErr error
	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return s.fail(task, task.AttemptCount(), fmt.Errorf("dispatch cancelled: %w", err))
		}

		attempt := task.beginAttempt(time.Now().Add(s.timeoutFor(task)))
		s.notify(Notification{Kind: NotifyStarted, TaskID: task.ID, TaskType: task.Type, Attempt: attempt})
		s.opts.Logger.Debug("scheduler.task.attempt", "task_id", task.ID, "task_type", task.Type, "attempt", attempt)

		output, err := s.attempt(ctx, task)
		s.sem.Release(1)

		if err == nil {
			task.setStatus(TaskSucceeded)
			s.notify(Notification{Kind: NotifySucceeded, TaskID: task.ID, TaskType: task.Type, Attempt: attempt})
			return Result{TaskID: task.ID, Status: TaskSucceeded, Output: output}
		}
		lastErr = err

		var timeout *core.TaskTimeoutError
		if errors.As(err, &timeout) {
			task.setStatus(TaskTimedOut)
			s.notify(Notification{Kind: NotifyTimedOut, TaskID: task.ID, TaskType: task.Type, Attempt: attempt, Err: err})
		}

		if ctx.Err() != nil || IsPermanent(err) || attempt >= maxAttempts {
			return s.fail(task, attempt, lastErr)
		}

		task.setStatus(TaskRetrying)
		s.notify(Notification{Kind: NotifyRetrying, TaskID: task.ID, TaskType: task.Type, Attempt: attempt, Err: err})
		delay := s.nextDelay(attempt)
		s.opts.Logger.Debug("scheduler.task.backoff", "task_id", task.ID, "attempt", attempt, "delay_ms", delay.Milliseconds())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.fail(task, attempt, lastErr)
		case <-timer.C:
		}
	}
}

// attempt runs one worker invocation under the per-attempt deadline. The
// worker runs on its own goroutine so a deadline fires even against a worker
// that ignores cancellation.
func (s *Scheduler) attempt(ctx context.Context, task *Task) (map[string]any, error) {
	w, ok := s.worker(task.Type)
	if !ok {
		return nil, Permanent(fmt.Errorf("no worker registered for task type %s", task.Type))
	}

	timeout := s.timeoutFor(task)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.opts.Logger.Error("scheduler.worker.panic", "task_type", task.Type, "recover", fmt.Sprint(r), "stack", string(debug.Stack()))
				done <- outcome{err: Permanent(fmt.Errorf("worker panic: %v", r))}
			}
		}()
		output, err := w.Do(attemptCtx, task)
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &core.TaskTimeoutError{TaskType: task.Type, Timeout: timeout}
		}
		return o.output, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.TaskTimeoutError{TaskType: task.Type, Timeout: timeout}
	}
}

func (s *Scheduler) fail(task *Task, attempts int, cause error) Result {
	task.setStatus(TaskFailed)
	err := &core.TaskExecutionError{TaskType: task.Type, Attempts: attempts, Err: cause}
	s.notify(Notification{Kind: NotifyFailed, TaskID: task.ID, TaskType: task.Type, Attempt: attempts, Err: err})
	s.opts.Logger.Warn("scheduler.task.failed", "task_id", task.ID, "task_type", task.Type, "attempts", attempts, "error", err.Error())
	return Result{TaskID: task.ID, Status: TaskFailed, Error: err.Error(), Err: err}
}

func (s *Scheduler) timeoutFor(task *Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return s.opts.TaskTimeout
}

// nextDelay returns the backoff before the nth retry:
// RetryBase * RetryFactor^(n-1).
func (s *Scheduler) nextDelay(attempt int) time.Duration {
	delay := float64(s.opts.RetryBase)
	for i := 1; i < attempt; i++ {
		delay *= s.opts.RetryFactor
	}
	return time.Duration(delay)
}

func (s *Scheduler) notify(n Notification) {
	if s.opts.Notifier != nil {
		s.opts.Notifier(n)
	}
}
