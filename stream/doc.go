// Package stream provides delivery and consumption of the Run Event Protocol.
//
// Bus is the server-side fan-out point: it accepts the typed events of a Run
// in emission order, enforces the stream discipline (exactly one RunStarted
// first, exactly one terminal event last) and delivers events to subscribers
// without reordering. RunState is the client-side state machine: it applies a
// received event sequence, enforcing the pairing rules of the protocol and
// reconstructing message content and tool call arguments from deltas.
package stream
