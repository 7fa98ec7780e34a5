// Package metrics holds the prometheus collectors shared by the
// ordering, liveness and coordinator packages. None of these affect
// ordering/liveness semantics; they are pure observation, added because
// the host core's functional scope never excludes metrics, they are simply out of
// explicit scope.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles the collectors the host core registers. Callers that
// don't want Prometheus wiring (e.g. unit tests) can pass a nil
// Registerer to New and simply never expose it via an HTTP handler.
type Set struct {
	MessagesDispatchedTotal *prometheus.CounterVec
	OrderingGapsTotal       prometheus.Counter
	OrderingTimeoutsTotal   prometheus.Counter
	EdgeNodesOnline         prometheus.Gauge
	DevicesOnline           prometheus.Gauge
}

// New creates a Set and registers it against reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default global
// registry.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		MessagesDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostcore_messages_dispatched_total",
			Help: "Messages routed to a user handler, by Sparkplug message type.",
		}, []string{"type"}),
		OrderingGapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostcore_ordering_gaps_total",
			Help: "Times the Ordering Engine took the gap branch (out-of-order seq).",
		}),
		OrderingTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostcore_ordering_timeouts_total",
			Help: "Reorder-timeout flushes performed by the Ordering Engine.",
		}),
		EdgeNodesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostcore_edge_nodes_online",
			Help: "Edge nodes currently considered online by the Liveness Tracker.",
		}),
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostcore_devices_online",
			Help: "Devices currently considered online by the Liveness Tracker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.MessagesDispatchedTotal, s.OrderingGapsTotal, s.OrderingTimeoutsTotal, s.EdgeNodesOnline, s.DevicesOnline)
	}
	return s
}
