// Package engine hosts the run coordinator. The Engine owns the thread
// registry, enforces the single-active-run-per-thread invariant, starts the
// Tool Call Loop for each user message, wires its event stream into the Run
// Event Bus, and supports best-effort cancellation by run id.
//
// The Engine deliberately does not interpret events: it moves them from the
// loop to the bus and keeps lifecycle bookkeeping. Interpretation belongs to
// subscribers (gateway, stream.RunState, tests).
package engine
