// Package gateway serves the wire protocol: a websocket endpoint that
// accepts client frames (user_message, action, ping) and pushes run event
// frames in publication order. One connection serves one thread; the engine
// enforces the single-active-run invariant underneath.
//
// The gateway also exports Prometheus metrics for connections, frames, and
// pushed events.
package gateway
