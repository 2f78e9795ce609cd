package core

import (
	"encoding/json"
	"fmt"
)

// ToolCallStatus enumerates the lifecycle states of a ToolCall.
type ToolCallStatus string

const (
	// ToolCallRequested is the initial state after a tool-start event.
	ToolCallRequested ToolCallStatus = "requested"
	// ToolCallArgsStreaming means argument fragments are being accumulated.
	ToolCallArgsStreaming ToolCallStatus = "args_streaming"
	// ToolCallReady means the argument buffer is sealed and parseable work can begin.
	ToolCallReady ToolCallStatus = "ready"
	// ToolCallExecuting means the registered executor is running.
	ToolCallExecuting ToolCallStatus = "executing"
	// ToolCallCompleted is the successful terminal state.
	ToolCallCompleted ToolCallStatus = "completed"
	// ToolCallFailed is the unsuccessful terminal state.
	ToolCallFailed ToolCallStatus = "failed"
)

// ToolCall is an explicit finite-state record for a single invocation of an
// external capability during a Run. Arguments accumulate from streamed
// fragments while the call is in ArgsStreaming; Seal transitions to Ready
// exactly once, after which the buffer is immutable.
//
// The zero value is not usable; construct via NewToolCall.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status ToolCallStatus `json:"status"`
	Result string         `json:"result,omitempty"`

	args string
}

// NewToolCall creates a ToolCall in the Requested state.
func NewToolCall(id, name string) *ToolCall {
	return &ToolCall{ID: id, Name: name, Status: ToolCallRequested}
}

// AppendArgs appends an argument fragment. Valid only while the call is
// Requested or ArgsStreaming; the first fragment moves the call to
// ArgsStreaming.
func (tc *ToolCall) AppendArgs(delta string) error {
	switch tc.Status {
	case ToolCallRequested, ToolCallArgsStreaming:
		tc.Status = ToolCallArgsStreaming
		tc.args += delta
		return nil
	default:
		return fmt.Errorf("tool call %s: args append in state %s", tc.ID, tc.Status)
	}
}

// Seal transitions the call to Ready, freezing the argument buffer. It is
// valid exactly once, from Requested (no arguments streamed) or ArgsStreaming.
func (tc *ToolCall) Seal() error {
	switch tc.Status {
	case ToolCallRequested, ToolCallArgsStreaming:
		tc.Status = ToolCallReady
		return nil
	default:
		return fmt.Errorf("tool call %s: seal in state %s", tc.ID, tc.Status)
	}
}

// Arguments returns the accumulated argument string.
func (tc *ToolCall) Arguments() string { return tc.args }

// ParseArguments decodes the sealed argument buffer as a JSON object. An
// empty buffer decodes to an empty map. A malformed buffer is a protocol
// violation the caller must surface as a RunProtocolError.
func (tc *ToolCall) ParseArguments() (map[string]any, error) {
	if tc.Status != ToolCallReady && tc.Status != ToolCallExecuting {
		return nil, fmt.Errorf("tool call %s: parse in state %s", tc.ID, tc.Status)
	}
	if tc.args == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(tc.args), &m); err != nil {
		return nil, fmt.Errorf("tool call %s: malformed arguments: %w", tc.ID, err)
	}
	return m, nil
}

// MarkExecuting moves a Ready call to Executing.
func (tc *ToolCall) MarkExecuting() error {
	if tc.Status != ToolCallReady {
		return fmt.Errorf("tool call %s: execute in state %s", tc.ID, tc.Status)
	}
	tc.Status = ToolCallExecuting
	return nil
}

// Complete records the JSON encoded result and moves the call to Completed.
func (tc *ToolCall) Complete(result string) error {
	if tc.Status != ToolCallExecuting {
		return fmt.Errorf("tool call %s: complete in state %s", tc.ID, tc.Status)
	}
	tc.Status = ToolCallCompleted
	tc.Result = result
	return nil
}

// Fail records the error payload and moves the call to Failed.
func (tc *ToolCall) Fail(result string) error {
	if tc.Status != ToolCallExecuting {
		return fmt.Errorf("tool call %s: fail in state %s", tc.ID, tc.Status)
	}
	tc.Status = ToolCallFailed
	tc.Result = result
	return nil
}

// Terminal reports whether the call reached Completed or Failed.
func (tc *ToolCall) Terminal() bool {
	return tc.Status == ToolCallCompleted || tc.Status == ToolCallFailed
}

// ToolCallTable indexes in-flight ToolCalls by id. It is not safe for
// concurrent use; callers own the synchronization (a Run's tool calls are
// only touched by its event-applying goroutine).
type ToolCallTable struct {
	calls map[string]*ToolCall
	order []string
}

// NewToolCallTable creates an empty table.
func NewToolCallTable() *ToolCallTable {
	return &ToolCallTable{calls: make(map[string]*ToolCall)}
}

// Start registers a new call. Duplicate ids are rejected.
func (t *ToolCallTable) Start(id, name string) (*ToolCall, error) {
	if _, ok := t.calls[id]; ok {
		return nil, fmt.Errorf("tool call %s already in flight", id)
	}
	tc := NewToolCall(id, name)
	t.calls[id] = tc
	t.order = append(t.order, id)
	return tc, nil
}

// Get returns the call for id, if present.
func (t *ToolCallTable) Get(id string) (*ToolCall, bool) {
	tc, ok := t.calls[id]
	return tc, ok
}

// Remove clears a call from the in-flight set.
func (t *ToolCallTable) Remove(id string) {
	delete(t.calls, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// All returns the in-flight calls in registration order.
func (t *ToolCallTable) All() []*ToolCall {
	out := make([]*ToolCall, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.calls[id])
	}
	return out
}

// Len returns the number of in-flight calls.
func (t *ToolCallTable) Len() int { return len(t.calls) }
