// Package core provides the foundational domain types used across Casemesh:
//
//   - Threads (durable session identities grouping one or more Runs)
//   - Runs (one orchestrated interaction producing an ordered event stream)
//   - Messages (append-only conversational units, streamed incrementally)
//   - ToolCalls (explicit finite-state records for in-flight tool invocations)
//   - RunContext (per-run execution scope passed into every call)
//   - The shared error taxonomy (connection, tool, protocol, task, workflow)
//
// The package intentionally keeps implementation concerns (persistence,
// transports, model providers, the orchestration engine) out of scope,
// exposing small interfaces so higher layers can supply custom backends.
package core
