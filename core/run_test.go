package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemesh-ai/casemesh/logging"
)

func TestRunStatusTransitions(t *testing.T) {
	r := NewRun("run-1", "thread-1", nil)
	assert.Equal(t, RunStarted, r.Status())

	require.NoError(t, r.SetStatus(RunStreaming))
	require.NoError(t, r.SetStatus(RunAwaitingTool))
	require.NoError(t, r.SetStatus(RunFinished))
	assert.True(t, r.Status().Terminal())

	err := r.SetStatus(RunStreaming)
	require.Error(t, err, "terminal state is final")
}

func TestRunSeedsHistory(t *testing.T) {
	history := []Message{
		NewMessage(RoleUser, "What is adverse possession?"),
		NewMessage(RoleAssistant, "A doctrine of property law."),
	}
	r := NewRun("run-1", "thread-1", history)

	msgs := r.Messages()
	require.Len(t, msgs, 2)

	r.AppendMessage(NewMessage(RoleUser, "And in Texas?"))
	assert.Len(t, r.Messages(), 3)
	assert.Len(t, msgs, 2, "earlier snapshot is unaffected")
}

func TestStreamingMessageImmutableAfterFinalize(t *testing.T) {
	m := NewStreamingMessage("msg-1", RoleAssistant)
	require.NoError(t, m.AppendDelta("partial "))
	require.NoError(t, m.AppendDelta("answer"))
	m.Finalize()

	assert.True(t, m.Final())
	assert.Equal(t, "partial answer", m.Content)
	assert.Error(t, m.AppendDelta("late"))
}

func TestRunContextContinuationCarriesHistory(t *testing.T) {
	run := NewRun("run-1", "thread-1", nil)
	rc := NewRunContext(context.Background(), "thread-1", "run-1", run, nil, logging.NoOpLogger{})

	require.NoError(t, rc.PersistMessage(NewMessage(RoleUser, "question")))
	require.NoError(t, rc.PersistMessage(NewMessage(RoleAssistant, "answer")))

	cont := rc.NewContinuation("run-2")
	assert.Equal(t, "run-2", cont.RunID)
	assert.Equal(t, "thread-1", cont.ThreadID)
	assert.Len(t, cont.Run.Messages(), 2)
	assert.Equal(t, RunStarted, cont.Run.Status())

	// The continuation owns a fresh message list.
	require.NoError(t, cont.PersistMessage(NewMessage(RoleUser, "follow-up")))
	assert.Len(t, rc.Run.Messages(), 2)
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewID()
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
