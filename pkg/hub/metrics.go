package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the hub reports.
type Metrics struct {
	ActiveConnections     prometheus.Gauge
	Rooms                 prometheus.Gauge
	QueueDepth            prometheus.Gauge
	StateUpdates          prometheus.Counter
	Broadcasts            prometheus.Counter
	ReplicationFailures   prometheus.Counter
	HeartbeatTerminations prometheus.Counter
	Reconnects            prometheus.Counter
}

// NewMetrics registers the hub metrics with the given registerer under the
// "corelay" namespace. Pass prometheus.DefaultRegisterer in production; tests
// use a private registry so parallel tests do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corelay",
			Name:      "active_connections",
			Help:      "Number of open websocket connections",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corelay",
			Name:      "rooms",
			Help:      "Number of rooms in the local replica",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corelay",
			Name:      "queue_depth",
			Help:      "Actions waiting in the tick queue",
		}),
		StateUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corelay",
			Name:      "state_updates_total",
			Help:      "State updates applied to the local replica",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corelay",
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to room members",
		}),
		ReplicationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corelay",
			Name:      "replication_failures_total",
			Help:      "Store publishes that failed after the local apply",
		}),
		HeartbeatTerminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corelay",
			Name:      "heartbeat_terminations_total",
			Help:      "Sockets terminated for missing heartbeats",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corelay",
			Name:      "reconnects_total",
			Help:      "Successful session reconnects",
		}),
	}
}
