package signaling

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's prometheus collectors.
type Metrics struct {
	ActiveUsers prometheus.Gauge
	ActiveRooms prometheus.Gauge
	Relayed     *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	Broadcasts  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rando",
			Name:      "active_users",
			Help:      "Users with a registered socket.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rando",
			Name:      "active_rooms",
			Help:      "Rooms known to the registry.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rando",
			Name:      "signals_relayed_total",
			Help:      "Negotiation messages forwarded to their target.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rando",
			Name:      "signals_dropped_total",
			Help:      "Negotiation messages discarded by the relay.",
		}, []string{"kind", "reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rando",
			Name:      "broadcasts_total",
			Help:      "Room broadcasts by event.",
		}, []string{"event"}),
	}
	reg.MustRegister(m.ActiveUsers, m.ActiveRooms, m.Relayed, m.Dropped, m.Broadcasts)
	return m
}
