// Package metrics holds the relay's prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videosync"

type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive prometheus.Gauge
	RoomsActive       prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	DeliveryFailures  prometheus.Counter
	AuthFailures      prometheus.Counter
	ProtocolErrors    prometheus.Counter
	RoomsSwept        prometheus.Counter
	RateLimited       prometheus.Counter
	FanoutSize        prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Open transport connections.",
		}),
		RoomsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_active",
			Help: "Rooms currently in the registry.",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Inbound protocol messages by type.",
		}, []string{"type"}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_failures_total",
			Help: "Writes to a peer connection that failed during fan-out.",
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "Rejected credentials.",
		}),
		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Connections closed for protocol sequence violations.",
		}),
		RoomsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_swept_total",
			Help: "Rooms removed by the inactivity sweep.",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Sync messages dropped by the per-member rate limiter.",
		}),
		FanoutSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fanout_recipients",
			Help:    "Recipients reached per broadcast.",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) Delivery(sent, failed int) {
	if m == nil {
		return
	}
	m.FanoutSize.Observe(float64(sent))
	if failed > 0 {
		m.DeliveryFailures.Add(float64(failed))
	}
}

func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.RoomsSwept.Add(float64(n))
}

func (m *Metrics) Limited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.RoomsActive.Set(float64(n))
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Set(float64(n))
}
