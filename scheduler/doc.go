// Package scheduler implements the agent coordinator: it dispatches batches
// of typed tasks to registered workers under a global concurrency bound,
// applies per-task timeouts, and retries timed-out and transient failures
// with exponential backoff.
//
// The scheduler is deliberately ignorant of workflows. It reports each
// task's terminal outcome and emits progress notifications; folding results
// into workflow state is the state machine's job, and workers never call
// back into it.
package scheduler
