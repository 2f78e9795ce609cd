package core

import (
	"fmt"
	"sync"
	"time"
)

// RunStatus enumerates the lifecycle states of a Run.
type RunStatus string

const (
	// RunStarted is the initial state after the run is created.
	RunStarted RunStatus = "started"
	// RunStreaming means model output is being streamed.
	RunStreaming RunStatus = "streaming"
	// RunAwaitingTool means the run is blocked on tool execution.
	RunAwaitingTool RunStatus = "awaiting_tool"
	// RunFinished is the successful terminal state.
	RunFinished RunStatus = "finished"
	// RunErrored is the unsuccessful terminal state.
	RunErrored RunStatus = "errored"
)

// Terminal reports whether the status is Finished or Errored.
func (s RunStatus) Terminal() bool { return s == RunFinished || s == RunErrored }

// Run represents one orchestrated interaction attempt on a Thread. It owns an
// ordered, monotonically growing Message list and the table of in-flight
// ToolCalls. Exactly one Run is active per Thread at a time; the engine
// enforces that single-writer invariant.
//
// Run is safe for concurrent access.
type Run struct {
	ID       string
	ThreadID string
	Created  time.Time

	mu        sync.RWMutex
	status    RunStatus
	messages  []Message
	toolCalls *ToolCallTable
}

// NewRun creates a Run in the Started state seeded with the prior
// conversation history of its thread.
func NewRun(id, threadID string, history []Message) *Run {
	r := &Run{
		ID:        id,
		ThreadID:  threadID,
		Created:   time.Now().UTC(),
		status:    RunStarted,
		toolCalls: NewToolCallTable(),
	}
	r.messages = append(r.messages, history...)
	return r
}

// Status returns the current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetStatus transitions the run. Transitions out of a terminal state are
// rejected; no further mutation is permitted after Finished or Errored.
func (r *Run) SetStatus(s RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return fmt.Errorf("run %s: transition %s -> %s after terminal state", r.ID, r.status, s)
	}
	r.status = s
	return nil
}

// AppendMessage appends a finalized message to the run's history.
func (r *Run) AppendMessage(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

// Messages returns a defensive copy of the message list.
func (r *Run) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ToolCalls exposes the in-flight tool call table. The caller must only use
// it from the goroutine applying the run's events.
func (r *Run) ToolCalls() *ToolCallTable { return r.toolCalls }
