package tool

import (
	"context"
	"errors"

	"github.com/casemesh-ai/casemesh/internal/util"
)

// Func is the signature of a plain Go function exposed as an Executor.
type Func func(ctx context.Context, args map[string]any) (any, error)

// FuncExecutor adapts a plain Go function into an Executor.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification
//   - Validates supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ExecutionError with
//     consistent codes: VALIDATION_ERROR for schema mismatches,
//     EXECUTION_ERROR for plain function errors (custom codes preserved when
//     the function returns *ExecutionError directly)
//
// A FuncExecutor has no internal mutable state after construction and is
// safe for concurrent use by multiple goroutines.
type FuncExecutor struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFuncExecutor wraps fn as an Executor. The parameters map should follow
// the minimal JSON Schema shape validated by util.ValidateParameters (type,
// properties, required, enum).
func NewFuncExecutor(name, description string, parameters map[string]any, fn Func) *FuncExecutor {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FuncExecutor{name: name, description: description, parameters: parameters, fn: fn}
}

// Name returns the executor identifier.
func (f *FuncExecutor) Name() string { return f.name }

// Description returns the capability description surfaced to the model.
func (f *FuncExecutor) Description() string { return f.description }

// Parameters returns the JSON schema for the expected arguments.
func (f *FuncExecutor) Parameters() map[string]any { return f.parameters }

// Execute validates args against the schema then invokes the wrapped function.
func (f *FuncExecutor) Execute(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, f.parameters); err != nil {
		var ve *util.ValidationError
		if errors.As(err, &ve) {
			return nil, &ExecutionError{Tool: f.name, Message: ve.Error(), Code: "VALIDATION_ERROR"}
		}
		return nil, &ExecutionError{Tool: f.name, Message: err.Error(), Code: "VALIDATION_ERROR"}
	}

	result, err := f.fn(ctx, args)
	if err != nil {
		var ee *ExecutionError
		if errors.As(err, &ee) {
			return nil, ee
		}
		return nil, &ExecutionError{Tool: f.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	return result, nil
}
