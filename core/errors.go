package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrRunActive is returned when a new Run is started on a Thread whose prior
// Run has not reached a terminal event.
var ErrRunActive = errors.New("a run is already active on this thread")

// ErrRunNotFound is returned when a run id does not name a live Run.
var ErrRunNotFound = errors.New("run not found")

// ConnectionError reports that the transport channel is unreachable after the
// reconnect budget was exhausted. Transient disconnects are recovered locally
// and never surface as ConnectionError.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolExecutionError reports that a tool executor returned an error or
// panicked. It is recovered locally: the loop folds it into a tool-role error
// message and the Run continues.
type ToolExecutionError struct {
	ToolCallID string
	Name       string
	Err        error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.Name, e.ToolCallID, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// RunProtocolError reports a malformed event sequence, such as unparsable
// tool arguments or content for a message that was never started. It is not
// recoverable: the Run transitions to Errored.
type RunProtocolError struct {
	RunID  string
	Reason string
}

func (e *RunProtocolError) Error() string {
	return fmt.Sprintf("run %s: protocol error: %s", e.RunID, e.Reason)
}

// TaskTimeoutError reports that a dispatched task exceeded its deadline. It
// is recovered by the scheduler's retry policy up to the configured bound.
type TaskTimeoutError struct {
	TaskType string
	Timeout  time.Duration
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskType, e.Timeout)
}

// TaskExecutionError reports that a task exhausted its retry budget. It is
// surfaced to the workflow state machine as a phase failure.
type TaskExecutionError struct {
	TaskType string
	Attempts int
	Err      error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %v", e.TaskType, e.Attempts, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// WorkflowTransitionError reports an attempted phase transition not permitted
// by the state graph. This is a programming error: never retried, always
// logged and surfaced.
type WorkflowTransitionError struct {
	WorkflowID string
	From, To   string
}

func (e *WorkflowTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: illegal transition %s -> %s", e.WorkflowID, e.From, e.To)
}
