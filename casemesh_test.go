package casemesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/model"
	"github.com/casemesh-ai/casemesh/scheduler"
	"github.com/casemesh-ai/casemesh/tool"
	"github.com/casemesh-ai/casemesh/workflow"
)

func TestRunSyncCollectsFullStream(t *testing.T) {
	m := model.NewScriptedModel("test").AddTextTurn("tacking requires privity")
	mesh := New(m)

	runID, events, err := mesh.RunSync(context.Background(), "thread-1", "tacking?")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	require.NotEmpty(t, events)

	assert.Equal(t, event.TypeRunStarted, events[0].Type())
	assert.Equal(t, event.TypeRunFinished, events[len(events)-1].Type())
}

func TestRunSyncSurfacesRunError(t *testing.T) {
	m := model.NewScriptedModel("test") // no scripted turns -> model error
	mesh := New(m)

	runID, events, err := mesh.RunSync(context.Background(), "thread-1", "anything")
	require.Error(t, err)
	require.NotEmpty(t, runID)
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeRunError, events[len(events)-1].Type())
}

func TestRunSyncUsesRegisteredTools(t *testing.T) {
	m := model.NewScriptedModel("test").
		AddToolCallTurn("call-1", "legal_search", `{"query":"estoppel"}`).
		AddTextTurn("found 2 cases")
	mesh := New(m)
	mesh.RegisterTool(tool.NewFuncExecutor("legal_search", "search case law", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"hits": 2}, nil
		}))

	_, events, err := mesh.RunSync(context.Background(), "thread-1", "estoppel?")
	require.NoError(t, err)

	var sawToolCall bool
	for _, ev := range events {
		if ev.Type() == event.TypeToolCallEnd {
			sawToolCall = true
		}
	}
	assert.True(t, sawToolCall)
}

func TestStartWorkflowRunsPipeline(t *testing.T) {
	mesh := New(model.NewScriptedModel("test"))
	for _, taskType := range []string{
		"document_intake", "manager_review", "legal_search", "result_analysis", "report_render",
	} {
		mesh.RegisterWorker(scheduler.NewWorkerFunc(taskType,
			func(ctx context.Context, task *scheduler.Task) (map[string]any, error) {
				return map[string]any{"done": true}, nil
			}))
	}

	state, err := mesh.StartWorkflow(context.Background(), "research goal")
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseCompleted, state.Phase)

	reloaded, err := mesh.WorkflowState(context.Background(), state.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseCompleted, reloaded.Phase)
}

func TestFacadeDefaultsAreUsable(t *testing.T) {
	mesh := New(model.NewScriptedModel("test"))
	require.NotNil(t, mesh.Engine())
	require.NotNil(t, mesh.Scheduler())
	require.NotNil(t, mesh.Workflows())
}
