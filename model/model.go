// Package model defines the boundary to the model-producing component. A
// Model consumes the normalized conversation transcript and streams Chunks:
// incremental text deltas, tool call openings and argument fragments, and a
// finish marker. Provider adapters (openai, anthropic) translate vendor
// streaming APIs into this closed chunk union so the Tool Call Loop never
// needs per-provider branching.
package model

import (
	"context"

	"github.com/casemesh-ai/casemesh/core"
)

// ToolDefinition declaratively exposes a callable executor to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the run loop.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a completed turn.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkKind discriminates the members of the Chunk union.
type ChunkKind string

const (
	// ChunkText carries one fragment of assistant text.
	ChunkText ChunkKind = "text_delta"
	// ChunkToolCall opens a new tool call (id and name set).
	ChunkToolCall ChunkKind = "tool_call"
	// ChunkToolArgs carries one fragment of a tool call's argument string.
	ChunkToolArgs ChunkKind = "tool_call_args"
	// ChunkFinish terminates the turn. FinishReason distinguishes a plain
	// completion from a tool round-trip request.
	ChunkFinish ChunkKind = "finish"
)

// Finish reasons normalized across providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Chunk is one streamed fragment of a model turn. Exactly the fields implied
// by Kind are set; consumers switch on Kind exhaustively.
type Chunk struct {
	Kind ChunkKind

	// Text is the content fragment for ChunkText.
	Text string

	// ToolCallID identifies the call for ChunkToolCall / ChunkToolArgs.
	ToolCallID string
	// ToolName is the executor name, set on ChunkToolCall.
	ToolName string
	// ArgsDelta is the argument fragment for ChunkToolArgs.
	ArgsDelta string

	// FinishReason is set on ChunkFinish.
	FinishReason string
	// Usage is optionally set on ChunkFinish.
	Usage *TokenUsage
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation.
//
// Generate returns a chunk channel and a terminal error channel; both are
// closed when the turn completes or the context is cancelled. A well-behaved
// implementation emits exactly one ChunkFinish as its last chunk on success.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}
