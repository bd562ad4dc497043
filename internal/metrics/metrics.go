// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and room counts, counters for message
// throughput, and a histogram for operation latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// BoundSessions tracks connections currently bound to an identity.
	BoundSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_bound_sessions",
		Help: "Current number of connections bound to an identity",
	})

	// ActiveRooms tracks the current number of non-empty dialog rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_active_rooms",
		Help: "Current number of non-empty dialog rooms",
	})

	// MessagesTotal counts message send attempts, labeled by result:
	// "sent", "blocked", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_total",
		Help: "Total number of message send attempts",
	}, []string{"result"})

	// ReadReceiptsTotal counts messages marked as read.
	ReadReceiptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_read_receipts_total",
		Help: "Total number of messages marked as read",
	})

	// OperationLatency records per-operation handling latency in seconds,
	// labeled by operation type.
	OperationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_operation_latency_seconds",
		Help:    "Operation handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		BoundSessions,
		ActiveRooms,
		MessagesTotal,
		ReadReceiptsTotal,
		OperationLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
