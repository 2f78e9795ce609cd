package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallLifecycle(t *testing.T) {
	tc := NewToolCall("call-1", "legal_search")
	assert.Equal(t, ToolCallRequested, tc.Status)

	require.NoError(t, tc.AppendArgs(`{"query":`))
	assert.Equal(t, ToolCallArgsStreaming, tc.Status)
	require.NoError(t, tc.AppendArgs(`"lis pendens"}`))

	require.NoError(t, tc.Seal())
	assert.Equal(t, ToolCallReady, tc.Status)
	assert.Equal(t, `{"query":"lis pendens"}`, tc.Arguments())

	require.NoError(t, tc.MarkExecuting())
	require.NoError(t, tc.Complete(`{"hits":3}`))
	assert.Equal(t, ToolCallCompleted, tc.Status)
	assert.Equal(t, `{"hits":3}`, tc.Result)
	assert.True(t, tc.Terminal())
}

func TestToolCallSealFreezesArguments(t *testing.T) {
	tc := NewToolCall("call-1", "legal_search")
	require.NoError(t, tc.Seal())

	assert.Error(t, tc.AppendArgs("more"))
	assert.Error(t, tc.Seal())
}

func TestToolCallSealWithoutArgsParsesToEmptyObject(t *testing.T) {
	tc := NewToolCall("call-1", "list_matters")
	require.NoError(t, tc.Seal())

	args, err := tc.ParseArguments()
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestToolCallParseRejectsMalformedArguments(t *testing.T) {
	tc := NewToolCall("call-1", "legal_search")
	require.NoError(t, tc.AppendArgs(`{"query": unterminated`))
	require.NoError(t, tc.Seal())

	_, err := tc.ParseArguments()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed arguments")
}

func TestToolCallFailRecordsResult(t *testing.T) {
	tc := NewToolCall("call-1", "legal_search")
	require.NoError(t, tc.Seal())
	require.NoError(t, tc.MarkExecuting())
	require.NoError(t, tc.Fail(`{"error":"index offline"}`))

	assert.Equal(t, ToolCallFailed, tc.Status)
	assert.True(t, tc.Terminal())
	assert.Error(t, tc.Complete("{}"), "terminal state is final")
}

func TestToolCallIllegalTransitions(t *testing.T) {
	tc := NewToolCall("call-1", "legal_search")
	assert.Error(t, tc.MarkExecuting(), "execute before seal")
	assert.Error(t, tc.Complete("{}"), "complete before execute")

	_, err := tc.ParseArguments()
	assert.Error(t, err, "parse before seal")
}

func TestToolCallTableOrderAndRemoval(t *testing.T) {
	table := NewToolCallTable()
	_, err := table.Start("call-1", "legal_search")
	require.NoError(t, err)
	_, err = table.Start("call-2", "fetch_docket")
	require.NoError(t, err)
	_, err = table.Start("call-3", "summarize")
	require.NoError(t, err)

	_, err = table.Start("call-2", "fetch_docket")
	assert.Error(t, err, "duplicate id")

	ids := func() []string {
		var out []string
		for _, tc := range table.All() {
			out = append(out, tc.ID)
		}
		return out
	}
	assert.Equal(t, []string{"call-1", "call-2", "call-3"}, ids())

	table.Remove("call-2")
	assert.Equal(t, []string{"call-1", "call-3"}, ids())
	assert.Equal(t, 2, table.Len())

	_, ok := table.Get("call-2")
	assert.False(t, ok)
}
