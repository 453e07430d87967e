// Package telemetry exposes Prometheus metrics for a single member.
package telemetry

import (
	"net/http"

	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gms"

// Metrics are registered per member so several members can share a process.
type Metrics struct {
	ViewID            prometheus.Gauge
	ViewMembers       prometheus.Gauge
	ViewChanges       prometheus.Counter
	Suspicions        prometheus.Counter
	SurpriseMembers   prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	ProtocolErrors    prometheus.Counter
	TransportErrors   prometheus.Counter
	HealthState       prometheus.Gauge
	ForcedDisconnects prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ViewID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_id",
			Help:      "ID of the installed view.",
		}),
		ViewMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_members",
			Help:      "Number of members in the installed view.",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_changes_total",
			Help:      "Total number of views installed.",
		}),
		Suspicions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicions_total",
			Help:      "Total number of members suspected by the failure detector.",
		}),
		SurpriseMembers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surprise_members_total",
			Help:      "Total number of surprise members observed.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages processed, by type.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped, by reason.",
		}, []string{"reason"}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total number of malformed or unexpected messages.",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total number of transport errors.",
		}),
		HealthState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_state",
			Help:      "Health state of the member (0 healthy, 1 sick, 2 playing dead, 3 disconnected).",
		}),
		ForcedDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_disconnects_total",
			Help:      "Total number of forced disconnects.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.ViewID, m.ViewMembers, m.ViewChanges, m.Suspicions, m.SurpriseMembers,
		m.MessagesReceived, m.MessagesDropped, m.ProtocolErrors, m.TransportErrors,
		m.HealthState, m.ForcedDisconnects,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveView(v view.View) {
	m.ViewID.Set(float64(v.ID))
	m.ViewMembers.Set(float64(len(v.Members)))
	m.ViewChanges.Inc()
}

func (m *Metrics) ObserveHealth(s health.State) { m.HealthState.Set(float64(s)) }

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
