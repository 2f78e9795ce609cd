package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchExecutor() *FuncExecutor {
	return NewFuncExecutor(
		"legal_search",
		"Search case law and statutes.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
				"depth": map[string]any{"type": "string", "enum": []any{"standard", "deep"}},
			},
			"required": []any{"query"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"query": args["query"], "hits": 2}, nil
		},
	)
}

func TestFuncExecutorExecute(t *testing.T) {
	e := searchExecutor()
	assert.Equal(t, "legal_search", e.Name())

	result, err := e.Execute(context.Background(), map[string]any{"query": "easement", "limit": 5})
	require.NoError(t, err)

	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "easement", m["query"])
}

func TestFuncExecutorValidation(t *testing.T) {
	e := searchExecutor()

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required field", map[string]any{"limit": 5}},
		{"wrong type", map[string]any{"query": 42}},
		{"enum violation", map[string]any{"query": "easement", "depth": "exhaustive"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), tt.args)
			var ee *ExecutionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, "VALIDATION_ERROR", ee.Code)
			assert.Equal(t, "legal_search", ee.Tool)
		})
	}
}

func TestFuncExecutorWrapsPlainErrors(t *testing.T) {
	e := NewFuncExecutor("flaky", "Always fails.", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("index offline")
		})

	_, err := e.Execute(context.Background(), map[string]any{})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "EXECUTION_ERROR", ee.Code)
	assert.Contains(t, ee.Message, "index offline")
}

func TestFuncExecutorPreservesExecutionErrors(t *testing.T) {
	e := NewFuncExecutor("quota", "Rate limited.", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, NewExecutionError("quota", "too many requests", "RATE_LIMITED")
		})

	_, err := e.Execute(context.Background(), map[string]any{})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "RATE_LIMITED", ee.Code)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(searchExecutor())

	e, ok := r.Get("legal_search")
	require.True(t, ok)
	assert.Equal(t, "legal_search", e.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	// Re-registering replaces the previous executor.
	r.Register(NewFuncExecutor("legal_search", "v2", nil,
		func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }))
	e, _ = r.Get("legal_search")
	assert.Equal(t, "v2", e.Description())
	assert.Len(t, r.All(), 1)
}
