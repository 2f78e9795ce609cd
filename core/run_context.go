package core

import (
	"context"

	"github.com/casemesh-ai/casemesh/logging"
)

// RunContext carries the execution scope of one Run. It is created when the
// Run starts and discarded at its terminal event; there is deliberately no
// process-wide "current run" singleton. It aggregates:
//
//   - The ambient cancellation Context
//   - Identifiers (ThreadID, RunID)
//   - The Run record (messages, tool call table, status)
//   - The ThreadStore for history persistence
//   - A contextual logger
//
// Continuation runs derive a fresh RunContext via NewContinuation: same
// thread, fresh run id, history carried forward.
type RunContext struct {
	Context  context.Context
	ThreadID string
	RunID    string
	Run      *Run
	Threads  ThreadStore

	*loggerAdapter
}

// NewRunContext constructs the execution scope for a new Run.
func NewRunContext(
	ctx context.Context,
	threadID, runID string,
	run *Run,
	threads ThreadStore,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		ThreadID:      threadID,
		RunID:         runID,
		Run:           run,
		Threads:       threads,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// NewContinuation derives the context for a continuation Run: same thread,
// fresh run id, message history carried forward from the current run.
func (rc *RunContext) NewContinuation(runID string) *RunContext {
	run := NewRun(runID, rc.ThreadID, rc.Run.Messages())
	return &RunContext{
		Context:       rc.Context,
		ThreadID:      rc.ThreadID,
		RunID:         runID,
		Run:           run,
		Threads:       rc.Threads,
		loggerAdapter: rc.loggerAdapter,
	}
}

// PersistMessage appends a message to the run and its thread history.
func (rc *RunContext) PersistMessage(m Message) error {
	rc.Run.AppendMessage(m)
	if rc.Threads == nil {
		return nil
	}
	return rc.Threads.AppendMessages(rc.ThreadID, m)
}
