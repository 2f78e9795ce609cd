package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainTurn(t *testing.T, m Model) ([]Chunk, error) {
	t.Helper()
	out, errCh := m.Generate(context.Background(), Request{})
	var chunks []Chunk
	for ck := range out {
		chunks = append(chunks, ck)
	}
	return chunks, <-errCh
}

func TestScriptedModelPlaysTurnsInOrder(t *testing.T) {
	m := NewScriptedModel("test").
		AddTextTurn("first answer").
		AddToolCallTurn("call-1", "legal_search", `{"query":"estoppel"}`)

	chunks, err := drainTurn(t, m)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, ChunkText, chunks[0].Kind)
	assert.Equal(t, "first answer", chunks[0].Text)
	assert.Equal(t, FinishStop, chunks[1].FinishReason)

	chunks, err = drainTurn(t, m)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkToolCall, chunks[0].Kind)
	assert.Equal(t, "legal_search", chunks[0].ToolName)
	assert.Equal(t, `{"query":"estoppel"}`, chunks[1].ArgsDelta)
	assert.Equal(t, FinishToolCalls, chunks[2].FinishReason)
}

func TestScriptedModelErrorsWhenExhausted(t *testing.T) {
	m := NewScriptedModel("test").AddTextTurn("only turn")

	_, err := drainTurn(t, m)
	require.NoError(t, err)

	chunks, err := drainTurn(t, m)
	assert.Empty(t, chunks)
	require.Error(t, err)
}

func TestScriptedModelRespectsCancellation(t *testing.T) {
	m := NewScriptedModel("test")
	for range 100 {
		m.AddTextTurn("filler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, errCh := m.Generate(ctx, Request{})
	for range out {
	}
	err := <-errCh
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestScriptedModelInfo(t *testing.T) {
	info := NewScriptedModel("deterministic").Info()
	assert.Equal(t, "deterministic", info.Name)
	assert.Equal(t, "scripted", info.Provider)
	assert.True(t, info.SupportsTools)
}
