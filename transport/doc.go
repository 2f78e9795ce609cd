// Package transport maintains one logical duplex frame channel per thread
// over an unreliable network. Frames sent while disconnected queue FIFO and
// flush in order on reconnect; reconnection backs off exponentially up to a
// configured attempt budget, after which the channel fails terminally with
// core.ConnectionError. A periodic heartbeat runs while connected and a
// missed heartbeat triggers reconnection.
//
// The network is abstracted behind Dialer: gorilla/websocket for production
// and an in-process pipe for tests.
package transport
