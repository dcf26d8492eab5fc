package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"
)

// unregisteredLabel replaces service names that are not in the route table so
// arbitrary peer input cannot grow label cardinality.
const unregisteredLabel = "unregistered"

// Metrics records router outcomes. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entityd",
			Subsystem: "router",
			Name:      "calls_total",
			Help:      "Routed calls by target service and status code.",
		}, []string{"service", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "entityd",
			Subsystem: "router",
			Name:      "call_duration_seconds",
			Help:      "Time spent serving a routed call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "entityd",
			Subsystem: "router",
			Name:      "calls_in_flight",
			Help:      "Calls currently being served.",
		}),
	}
}

func (m *Metrics) observe(service string, code codes.Code, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(service, code.String()).Inc()
	m.duration.WithLabelValues(service).Observe(elapsed.Seconds())
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}
