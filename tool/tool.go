// Package tool implements the executor registry that backs tool calls made
// during a Run. Executors are pure request to result mappings with schema
// validated arguments and consistent error handling; they have no side
// channel back into the event stream.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/casemesh-ai/casemesh/internal/util"
)

// Executor defines an externally executed capability invocable mid-Run.
//
// Implementations must be pure with respect to the run: they receive parsed
// arguments, return a result (or error), and never emit events or start runs
// themselves. The Tool Call Loop owns result delivery and continuation.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a JSON schema for their parameters
//   - Respect context cancellation
//   - Be safe for concurrent use; batch members execute in parallel
type Executor interface {
	// Name returns the unique identifier for this executor.
	Name() string

	// Description returns a human-readable description of the capability.
	// It is surfaced to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Execute runs the capability with parsed, validated arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ExecutionError represents errors that occur during executor invocation.
type ExecutionError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewExecutionError creates an ExecutionError with the specified details.
func NewExecutionError(tool, message, code string) *ExecutionError {
	return &ExecutionError{Tool: tool, Message: message, Code: code}
}

// Registry is a thread-safe index of executors by name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor, replacing any previous registration of the same name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Name()] = e
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// All returns the registered executors. Order is unspecified.
func (r *Registry) All() []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Executor, 0, len(r.executors))
	for _, e := range r.executors {
		out = append(out, e)
	}
	return out
}
