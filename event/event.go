// Package event defines the Run Event Protocol: the closed set of typed
// events streamed for one Run, plus their JSON wire codec.
//
// The stream for a Run always begins with exactly one RunStarted and ends
// with exactly one terminal event (RunFinished or RunError). Between them,
// text messages and tool calls are streamed with a Start / zero-or-more
// deltas / End discipline; concatenating deltas in arrival order
// reconstructs the final content exactly.
//
// The union is closed: consumers match exhaustively on Type and the codec
// rejects unknown type values as a protocol error rather than ignoring them.
package event

import (
	"encoding/json"
	"time"
)

// Type is the wire discriminator of an event frame.
type Type string

const (
	// TypeRunStarted opens a run's event stream.
	TypeRunStarted Type = "run_started"
	// TypeTextMessageStart opens a streamed text message.
	TypeTextMessageStart Type = "text_message_start"
	// TypeTextMessageContent carries one text delta.
	TypeTextMessageContent Type = "text_message_content"
	// TypeTextMessageEnd closes a streamed text message.
	TypeTextMessageEnd Type = "text_message_end"
	// TypeToolCallStart opens a streamed tool call.
	TypeToolCallStart Type = "tool_call_start"
	// TypeToolCallArgsDelta carries one tool argument fragment.
	TypeToolCallArgsDelta Type = "tool_call_args_delta"
	// TypeToolCallEnd seals a tool call's argument buffer.
	TypeToolCallEnd Type = "tool_call_end"
	// TypeStateSnapshot carries a full out-of-band UI state payload.
	TypeStateSnapshot Type = "state_snapshot"
	// TypeStateDelta carries a partial out-of-band UI state payload.
	TypeStateDelta Type = "state_delta"
	// TypeRunFinished terminates a run successfully.
	TypeRunFinished Type = "run_finished"
	// TypeRunError terminates a run with an error.
	TypeRunError Type = "run_error"
)

// Event is the interface implemented by every member of the union. All
// concrete types embed Base for the shared envelope fields; consumers that
// need payload fields type-switch on the concrete types.
type Event interface {
	Type() Type
	RunID() string
	ThreadID() string
	OccurredAt() time.Time
}

// Base carries the envelope fields shared by every event frame.
type Base struct {
	EventType Type      `json:"type"`
	Run       string    `json:"runId"`
	Thread    string    `json:"threadId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the wire discriminator.
func (b Base) Type() Type { return b.EventType }

// RunID returns the run this event belongs to.
func (b Base) RunID() string { return b.Run }

// ThreadID returns the thread the run is scoped under.
func (b Base) ThreadID() string { return b.Thread }

// OccurredAt returns the emission timestamp (UTC).
func (b Base) OccurredAt() time.Time { return b.Timestamp }

func newBase(t Type, runID, threadID string) Base {
	return Base{EventType: t, Run: runID, Thread: threadID, Timestamp: time.Now().UTC()}
}

// RunStarted is the first event of every run.
type RunStarted struct {
	Base
}

// NewRunStarted constructs the opening event of a run.
func NewRunStarted(runID, threadID string) RunStarted {
	return RunStarted{Base: newBase(TypeRunStarted, runID, threadID)}
}

// TextMessageStart opens one streamed message. Start and End are paired
// exactly once per message id.
type TextMessageStart struct {
	Base
	MessageID string `json:"messageId"`
	Role      string `json:"role,omitempty"`
}

// NewTextMessageStart constructs a message-start event.
func NewTextMessageStart(runID, messageID, role string) TextMessageStart {
	return TextMessageStart{Base: newBase(TypeTextMessageStart, runID, ""), MessageID: messageID, Role: role}
}

// TextMessageContent carries one content delta of a streamed message.
type TextMessageContent struct {
	Base
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// NewTextMessageContent constructs a message content delta event.
func NewTextMessageContent(runID, messageID, delta string) TextMessageContent {
	return TextMessageContent{Base: newBase(TypeTextMessageContent, runID, ""), MessageID: messageID, Delta: delta}
}

// TextMessageEnd closes a streamed message.
type TextMessageEnd struct {
	Base
	MessageID string `json:"messageId"`
}

// NewTextMessageEnd constructs a message-end event.
func NewTextMessageEnd(runID, messageID string) TextMessageEnd {
	return TextMessageEnd{Base: newBase(TypeTextMessageEnd, runID, ""), MessageID: messageID}
}

// ToolCallStart opens one streamed tool call.
type ToolCallStart struct {
	Base
	ToolCallID string `json:"toolCallId"`
	Name       string `json:"name"`
}

// NewToolCallStart constructs a tool-call-start event.
func NewToolCallStart(runID, toolCallID, name string) ToolCallStart {
	return ToolCallStart{Base: newBase(TypeToolCallStart, runID, ""), ToolCallID: toolCallID, Name: name}
}

// ToolCallArgsDelta carries one fragment of a tool call's JSON argument
// string. Fragments are not guaranteed to be valid JSON on their own.
type ToolCallArgsDelta struct {
	Base
	ToolCallID string `json:"toolCallId"`
	Delta      string `json:"delta"`
}

// NewToolCallArgsDelta constructs a tool argument fragment event.
func NewToolCallArgsDelta(runID, toolCallID, delta string) ToolCallArgsDelta {
	return ToolCallArgsDelta{Base: newBase(TypeToolCallArgsDelta, runID, ""), ToolCallID: toolCallID, Delta: delta}
}

// ToolCallEnd seals a tool call's argument buffer; the accumulated string
// must parse as well-formed JSON or the run errors.
type ToolCallEnd struct {
	Base
	ToolCallID string `json:"toolCallId"`
}

// NewToolCallEnd constructs a tool-call-end event.
func NewToolCallEnd(runID, toolCallID string) ToolCallEnd {
	return ToolCallEnd{Base: newBase(TypeToolCallEnd, runID, ""), ToolCallID: toolCallID}
}

// StateSnapshot carries a full out-of-band UI state payload. Snapshots are
// ordered only by arrival relative to message and tool events.
type StateSnapshot struct {
	Base
	Payload json.RawMessage `json:"payload"`
}

// NewStateSnapshot constructs a full-state sync event.
func NewStateSnapshot(runID string, payload json.RawMessage) StateSnapshot {
	return StateSnapshot{Base: newBase(TypeStateSnapshot, runID, ""), Payload: payload}
}

// StateDelta carries a partial out-of-band UI state payload.
type StateDelta struct {
	Base
	Payload json.RawMessage `json:"payload"`
}

// NewStateDelta constructs a partial-state sync event.
func NewStateDelta(runID string, payload json.RawMessage) StateDelta {
	return StateDelta{Base: newBase(TypeStateDelta, runID, ""), Payload: payload}
}

// RunFinished is the successful terminal event of a run. No further events
// are emitted for the run after it.
type RunFinished struct {
	Base
}

// NewRunFinished constructs the successful terminal event.
func NewRunFinished(runID, threadID string) RunFinished {
	return RunFinished{Base: newBase(TypeRunFinished, runID, threadID)}
}

// RunError is the unsuccessful terminal event of a run.
type RunError struct {
	Base
	Message string `json:"message"`
}

// NewRunError constructs the error terminal event.
func NewRunError(runID, threadID, message string) RunError {
	return RunError{Base: newBase(TypeRunError, runID, threadID), Message: message}
}

// Terminal reports whether t ends a run's stream.
func Terminal(t Type) bool { return t == TypeRunFinished || t == TypeRunError }
