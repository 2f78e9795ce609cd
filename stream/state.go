package stream

import (
	"fmt"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/event"
)

// RunState is the client-side state machine of the Run Event Protocol. It
// applies the events of one run in arrival order, enforcing the pairing
// discipline of streamed messages and tool calls, and reconstructs message
// content and tool call argument strings by in-order concatenation.
//
// Any violation of the protocol is returned as *core.RunProtocolError; the
// caller must treat the run as Errored and stop applying events.
//
// RunState is not safe for concurrent use; apply events from one goroutine.
type RunState struct {
	RunID    string
	ThreadID string

	status    core.RunStatus
	started   bool
	errMsg    string
	messages  map[string]*core.Message
	order     []string
	toolCalls *core.ToolCallTable
	snapshots [][]byte
}

// NewRunState creates an assembler for one run's event stream.
func NewRunState(runID string) *RunState {
	return &RunState{
		RunID:     runID,
		status:    core.RunStarted,
		messages:  make(map[string]*core.Message),
		toolCalls: core.NewToolCallTable(),
	}
}

// Status returns the run status as derived from the applied events.
func (s *RunState) Status() core.RunStatus { return s.status }

// ErrorMessage returns the RunError message when the run ended in error.
func (s *RunState) ErrorMessage() string { return s.errMsg }

// Apply folds one event into the state.
func (s *RunState) Apply(ev event.Event) error {
	if ev.RunID() != s.RunID {
		return s.violation("event for run %s applied to run %s", ev.RunID(), s.RunID)
	}
	if s.status.Terminal() {
		return s.violation("event %s after terminal event", ev.Type())
	}
	if !s.started && ev.Type() != event.TypeRunStarted {
		return s.violation("event %s before run_started", ev.Type())
	}

	switch e := ev.(type) {
	case event.RunStarted:
		if s.started {
			return s.violation("duplicate run_started")
		}
		s.started = true
		s.ThreadID = e.ThreadID()

	case event.TextMessageStart:
		if _, ok := s.messages[e.MessageID]; ok {
			return s.violation("duplicate text_message_start for message %s", e.MessageID)
		}
		role := core.Role(e.Role)
		if role == "" {
			role = core.RoleAssistant
		}
		s.messages[e.MessageID] = core.NewStreamingMessage(e.MessageID, role)
		s.order = append(s.order, e.MessageID)
		s.status = core.RunStreaming

	case event.TextMessageContent:
		m, ok := s.messages[e.MessageID]
		if !ok {
			return s.violation("content for unknown message %s", e.MessageID)
		}
		if err := m.AppendDelta(e.Delta); err != nil {
			return s.violation("content after text_message_end for message %s", e.MessageID)
		}

	case event.TextMessageEnd:
		m, ok := s.messages[e.MessageID]
		if !ok {
			return s.violation("text_message_end for unknown message %s", e.MessageID)
		}
		if m.Final() {
			return s.violation("duplicate text_message_end for message %s", e.MessageID)
		}
		m.Finalize()

	case event.ToolCallStart:
		if _, err := s.toolCalls.Start(e.ToolCallID, e.Name); err != nil {
			return s.violation("duplicate tool_call_start for call %s", e.ToolCallID)
		}
		s.status = core.RunStreaming

	case event.ToolCallArgsDelta:
		tc, ok := s.toolCalls.Get(e.ToolCallID)
		if !ok {
			return s.violation("args delta for unknown tool call %s", e.ToolCallID)
		}
		if err := tc.AppendArgs(e.Delta); err != nil {
			return s.violation("args delta after tool_call_end for call %s", e.ToolCallID)
		}

	case event.ToolCallEnd:
		tc, ok := s.toolCalls.Get(e.ToolCallID)
		if !ok {
			return s.violation("tool_call_end for unknown call %s", e.ToolCallID)
		}
		if err := tc.Seal(); err != nil {
			return s.violation("duplicate tool_call_end for call %s", e.ToolCallID)
		}
		s.status = core.RunAwaitingTool

	case event.StateSnapshot:
		s.snapshots = append(s.snapshots, e.Payload)

	case event.StateDelta:
		s.snapshots = append(s.snapshots, e.Payload)

	case event.RunFinished:
		if err := s.checkComplete(); err != nil {
			return err
		}
		s.status = core.RunFinished

	case event.RunError:
		s.status = core.RunErrored
		s.errMsg = e.Message

	default:
		return s.violation("unknown event type %s", ev.Type())
	}
	return nil
}

// checkComplete verifies no message or tool call stream is left open when the
// run finishes successfully.
func (s *RunState) checkComplete() error {
	for _, id := range s.order {
		if !s.messages[id].Final() {
			return s.violation("run finished with open message %s", id)
		}
	}
	for _, tc := range s.toolCalls.All() {
		if tc.Status == core.ToolCallRequested || tc.Status == core.ToolCallArgsStreaming {
			return s.violation("run finished with open tool call %s", tc.ID)
		}
	}
	return nil
}

// Messages returns the reconstructed messages in stream order.
func (s *RunState) Messages() []core.Message {
	out := make([]core.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.messages[id])
	}
	return out
}

// Message returns the reconstructed message with the given id.
func (s *RunState) Message(id string) (core.Message, bool) {
	m, ok := s.messages[id]
	if !ok {
		return core.Message{}, false
	}
	return *m, true
}

// ToolCalls returns the tool call table built from the stream.
func (s *RunState) ToolCalls() *core.ToolCallTable { return s.toolCalls }

// ReadyToolCalls returns the calls whose argument buffers have been sealed
// and not yet moved past Ready, in registration order.
func (s *RunState) ReadyToolCalls() []*core.ToolCall {
	var out []*core.ToolCall
	for _, tc := range s.toolCalls.All() {
		if tc.Status == core.ToolCallReady {
			out = append(out, tc)
		}
	}
	return out
}

// StatePayloads returns the raw out-of-band state payloads in arrival order.
func (s *RunState) StatePayloads() [][]byte {
	out := make([][]byte, len(s.snapshots))
	for i, p := range s.snapshots {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

func (s *RunState) violation(format string, args ...any) error {
	return &core.RunProtocolError{RunID: s.RunID, Reason: fmt.Sprintf(format, args...)}
}
