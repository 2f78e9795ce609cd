package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles the gateway's Prometheus collectors.
type metrics struct {
	connectedClients prometheus.Gauge
	framesReceived   *prometheus.CounterVec
	eventsSent       prometheus.Counter
	frameErrors      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "casemesh", Subsystem: "gateway",
			Name: "connected_clients", Help: "Currently connected websocket clients.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casemesh", Subsystem: "gateway",
			Name: "frames_received_total", Help: "Client frames received, by type.",
		}, []string{"type"}),
		eventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casemesh", Subsystem: "gateway",
			Name: "events_sent_total", Help: "Run event frames pushed to clients.",
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casemesh", Subsystem: "gateway",
			Name: "frame_errors_total", Help: "Client frames rejected as malformed or unsupported.",
		}),
	}
	reg.MustRegister(m.connectedClients, m.framesReceived, m.eventsSent, m.frameErrors)
	return m
}
