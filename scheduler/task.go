package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/casemesh-ai/casemesh/core"
)

// TaskStatus enumerates the lifecycle states of a dispatched Task.
type TaskStatus string

const (
	// TaskQueued means the task is accepted but not yet running.
	TaskQueued TaskStatus = "queued"
	// TaskRunning means a worker is executing the task.
	TaskRunning TaskStatus = "running"
	// TaskSucceeded is the successful terminal state.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed is the non-retryable terminal state.
	TaskFailed TaskStatus = "failed"
	// TaskRetrying means the task failed transiently and is waiting out its
	// backoff delay.
	TaskRetrying TaskStatus = "retrying"
	// TaskTimedOut means the last attempt exceeded its deadline. Timed-out
	// tasks re-enter Retrying while budget remains.
	TaskTimedOut TaskStatus = "timed_out"
)

// Terminal reports whether the status is Succeeded or Failed.
func (s TaskStatus) Terminal() bool { return s == TaskSucceeded || s == TaskFailed }

// Task is one unit of work dispatched to a named worker type.
type Task struct {
	ID         string         `json:"id"`
	Type       string         `json:"task_type"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Timeout overrides the scheduler's default per-attempt deadline when
	// positive.
	Timeout time.Duration `json:"timeout,omitempty"`

	mu       sync.Mutex
	status   TaskStatus
	attempts int
	deadline time.Time
}

// NewTask creates a queued task of the given worker type.
func NewTask(taskType string, parameters map[string]any) *Task {
	return &Task{
		ID:         core.NewID(),
		Type:       taskType,
		Parameters: parameters,
		status:     TaskQueued,
	}
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AttemptCount returns the number of attempts started so far.
func (t *Task) AttemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Deadline returns the deadline of the attempt in flight (zero outside
// Running).
func (t *Task) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

func (t *Task) beginAttempt(deadline time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.status = TaskRunning
	t.deadline = deadline
	return t.attempts
}

func (t *Task) setStatus(s TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
	if s != TaskRunning {
		t.deadline = time.Time{}
	}
}

// Result is the terminal envelope a task resolves to.
type Result struct {
	TaskID string         `json:"task_id"`
	Status TaskStatus     `json:"status"`
	Output map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	// Err carries the typed terminal error for Failed results so callers can
	// match with errors.As. Nil on success.
	Err error `json:"-"`
}

// Worker executes tasks of one type. Implementations must respect context
// cancellation and be safe for concurrent use; the scheduler may run many
// tasks of the same type in parallel.
type Worker interface {
	// Type returns the task type this worker serves.
	Type() string

	// Do executes one task attempt and returns its output payload.
	Do(ctx context.Context, task *Task) (map[string]any, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc struct {
	taskType string
	fn       func(ctx context.Context, task *Task) (map[string]any, error)
}

// NewWorkerFunc wraps fn as a Worker serving taskType.
func NewWorkerFunc(taskType string, fn func(ctx context.Context, task *Task) (map[string]any, error)) *WorkerFunc {
	return &WorkerFunc{taskType: taskType, fn: fn}
}

// Type implements Worker.
func (w *WorkerFunc) Type() string { return w.taskType }

// Do implements Worker.
func (w *WorkerFunc) Do(ctx context.Context, task *Task) (map[string]any, error) {
	return w.fn(ctx, task)
}

// permanentError marks a failure as non-retryable regardless of remaining
// retry budget.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the scheduler fails the task immediately instead of
// retrying. Workers return it for errors that cannot succeed on a re-run,
// such as invalid parameters.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// NotificationKind discriminates progress notifications.
type NotificationKind string

const (
	// NotifyStarted fires when an attempt begins running.
	NotifyStarted NotificationKind = "started"
	// NotifySucceeded fires when the task reaches Succeeded.
	NotifySucceeded NotificationKind = "succeeded"
	// NotifyFailed fires when the task reaches non-retryable Failed.
	NotifyFailed NotificationKind = "failed"
	// NotifyRetrying fires when a transient failure enters backoff.
	NotifyRetrying NotificationKind = "retrying"
	// NotifyTimedOut fires when an attempt exceeds its deadline.
	NotifyTimedOut NotificationKind = "timed_out"
)

// Notification is one progress report emitted during dispatch.
type Notification struct {
	Kind     NotificationKind
	TaskID   string
	TaskType string
	Attempt  int
	Err      error
}

// Notifier receives progress notifications. It is called synchronously from
// dispatch goroutines and must not block.
type Notifier func(Notification)
