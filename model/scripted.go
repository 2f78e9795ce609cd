package model

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedModel is a deterministic in-memory Model for tests and examples.
// Each call to Generate plays back the next scripted turn in order; running
// past the script yields an error on the error channel.
type ScriptedModel struct {
	info Info

	mu    sync.Mutex
	turns [][]Chunk
	next  int
}

// NewScriptedModel constructs a scripted model with tool support enabled.
func NewScriptedModel(name string) *ScriptedModel {
	return &ScriptedModel{info: Info{Name: name, Provider: "scripted", SupportsTools: true}}
}

// AddTurn appends one turn's chunk sequence to the script.
func (m *ScriptedModel) AddTurn(chunks ...Chunk) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, chunks)
	return m
}

// AddTextTurn appends a turn that streams text word-by-word then finishes.
func (m *ScriptedModel) AddTextTurn(text string) *ScriptedModel {
	chunks := []Chunk{{Kind: ChunkText, Text: text}, {Kind: ChunkFinish, FinishReason: FinishStop}}
	return m.AddTurn(chunks...)
}

// AddToolCallTurn appends a turn that requests a single tool call with the
// given argument string streamed as one fragment.
func (m *ScriptedModel) AddToolCallTurn(callID, name, args string) *ScriptedModel {
	return m.AddTurn(
		Chunk{Kind: ChunkToolCall, ToolCallID: callID, ToolName: name},
		Chunk{Kind: ChunkToolArgs, ToolCallID: callID, ArgsDelta: args},
		Chunk{Kind: ChunkFinish, FinishReason: FinishToolCalls},
	)
}

// Generate implements Model by replaying the next scripted turn.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 32)
	errCh := make(chan error, 1)

	m.mu.Lock()
	var turn []Chunk
	exhausted := m.next >= len(m.turns)
	if !exhausted {
		turn = m.turns[m.next]
		m.next++
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		if exhausted {
			errCh <- fmt.Errorf("scripted model: no turn left (turn %d requested)", m.next+1)
			return
		}
		for _, ck := range turn {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ck:
			}
		}
	}()
	return out, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
