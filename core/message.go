package core

import "fmt"

// Role identifies the author category of a Message.
type Role string

const (
	// RoleUser marks content submitted by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks content produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of a tool invocation re-entering the Run.
	RoleTool Role = "tool"
)

// Message is an append-only unit of conversational content. While a message
// is streaming its content grows by appending deltas; once finalized it is
// immutable. A tool-role message carries the ToolCallID linking it to the
// invocation that produced it.
type Message struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls records the invocations requested by an assistant message,
	// so continuation runs can replay a faithful transcript to the model.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	final bool
}

// ToolCallRequest is the immutable record of one tool invocation requested by
// an assistant message: id, executor name, and the sealed argument string.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewMessage creates a finalized message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{ID: NewID(), Role: role, Content: content, final: true}
}

// NewToolMessage creates a finalized tool-role message carrying the JSON
// encoded result of the tool call identified by toolCallID.
func NewToolMessage(toolCallID, content string) Message {
	return Message{ID: NewID(), Role: RoleTool, Content: content, ToolCallID: toolCallID, final: true}
}

// NewAssistantToolCallMessage creates a finalized assistant message recording
// the tool calls the model requested in one batch.
func NewAssistantToolCallMessage(content string, calls []ToolCallRequest) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Content: content, ToolCalls: calls, final: true}
}

// NewStreamingMessage creates an open message whose content will be built up
// from deltas. Call AppendDelta for each fragment and Finalize when the
// stream ends.
func NewStreamingMessage(id string, role Role) *Message {
	return &Message{ID: id, Role: role}
}

// AppendDelta appends a content fragment. It fails once the message has been
// finalized; finalized messages are immutable.
func (m *Message) AppendDelta(delta string) error {
	if m.final {
		return fmt.Errorf("message %s is finalized", m.ID)
	}
	m.Content += delta
	return nil
}

// Finalize marks the message immutable. Further AppendDelta calls fail.
func (m *Message) Finalize() { m.final = true }

// Final reports whether the message has been finalized.
func (m *Message) Final() bool { return m.final }
