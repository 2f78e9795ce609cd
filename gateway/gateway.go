package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casemesh-ai/casemesh/core"
	"github.com/casemesh-ai/casemesh/engine"
	"github.com/casemesh-ai/casemesh/event"
	"github.com/casemesh-ai/casemesh/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientFrame is the decoded client-to-server message.
type clientFrame struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// serverFrame is used for gateway-originated frames (pong, errors, acks).
// Run events go over the wire in their own codec encoding.
type serverFrame struct {
	Type    string `json:"type"`
	RunID   string `json:"runId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Options configures a Gateway.
type Options struct {
	// Registry receives the gateway's Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// CheckOrigin overrides the upgrade origin check. Default allows all.
	CheckOrigin func(r *http.Request) bool

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Gateway exposes an Engine over websocket.
type Gateway struct {
	engine   *engine.Engine
	logger   logging.Logger
	metrics  *metrics
	upgrader websocket.Upgrader
}

// New constructs a Gateway over the engine.
func New(e *engine.Engine, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Registry:    prometheus.DefaultRegisterer,
		CheckOrigin: func(r *http.Request) bool { return true },
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{
		engine:  e,
		logger:  opts.Logger,
		metrics: newMetrics(opts.Registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// Handler returns the gateway's HTTP mux: websocket at /ws, Prometheus
// metrics at /metrics.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// HandleWebSocket upgrades the request and serves one client connection.
// The thread is selected by the thread_id query parameter; absent, a fresh
// thread is created for the connection.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		threadID = core.NewID()
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("gateway.upgrade.failed", "error", err.Error())
		return
	}

	g.metrics.connectedClients.Inc()
	defer g.metrics.connectedClients.Dec()
	g.logger.Info("gateway.client.connected", "thread_id", threadID)

	c := &client{
		gateway:  g,
		conn:     conn,
		threadID: threadID,
		outbound: make(chan []byte, 64),
	}
	c.serve(r.Context())
	g.logger.Info("gateway.client.disconnected", "thread_id", threadID)
}

// client is one websocket session bound to a thread.
type client struct {
	gateway  *Gateway
	conn     *websocket.Conn
	threadID string
	outbound chan []byte
}

// serve runs the read and write pumps until either side fails.
func (c *client) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
	c.conn.Close()
}

// readPump decodes client frames. A read deadline refreshed by pongs guards
// against dead peers.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			c.gateway.metrics.frameErrors.Inc()
			c.sendError("", "malformed frame")
			continue
		}
		c.gateway.metrics.framesReceived.WithLabelValues(frame.Type).Inc()

		switch frame.Type {
		case "ping":
			// Liveness only; answers with a pong frame, never a run event.
			c.push(serverFrame{Type: "pong"})
		case "user_message":
			c.handleUserMessage(ctx, frame)
		case "action":
			c.handleAction(frame)
		default:
			c.gateway.metrics.frameErrors.Inc()
			c.sendError("", "unsupported frame type "+frame.Type)
		}
	}
}

// handleUserMessage starts a run for the frame's content and streams its
// events back on this connection.
func (c *client) handleUserMessage(ctx context.Context, frame clientFrame) {
	runID, events, err := c.gateway.engine.StartRun(ctx, c.threadID, frame.Content)
	if err != nil {
		c.sendError("", err.Error())
		return
	}
	go func() {
		for ev := range events {
			raw, err := event.Marshal(ev)
			if err != nil {
				c.gateway.logger.Error("gateway.event.encode", "run_id", runID, "error", err.Error())
				continue
			}
			select {
			case c.outbound <- raw:
				c.gateway.metrics.eventsSent.Inc()
			case <-ctx.Done():
				// The client is gone but the run's publisher may still be
				// mid-stream. Drain until the bus closes the subscription so
				// it can reach its terminal event and release the thread;
				// the run context is cancelled with the connection's.
				for range events {
				}
				return
			}
		}
	}()
}

// handleAction dispatches control actions.
func (c *client) handleAction(frame clientFrame) {
	switch frame.Action {
	case "cancel_run":
		var payload struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.RunID == "" {
			c.gateway.metrics.frameErrors.Inc()
			c.sendError("", "cancel_run requires run_id")
			return
		}
		if err := c.gateway.engine.CancelRun(payload.RunID); err != nil {
			c.sendError(payload.RunID, err.Error())
			return
		}
		c.push(serverFrame{Type: "ack", RunID: payload.RunID})
	default:
		c.gateway.metrics.frameErrors.Inc()
		c.sendError("", "unsupported action "+frame.Action)
	}
}

// writePump serializes all writes to the connection and keeps the peer alive
// with protocol-level pings.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) push(frame serverFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.outbound <- raw:
	default:
		c.gateway.logger.Warn("gateway.outbound.full", "thread_id", c.threadID)
	}
}

func (c *client) sendError(runID, message string) {
	c.push(serverFrame{Type: "error", RunID: runID, Message: message})
}
