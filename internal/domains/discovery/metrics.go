package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts handshake outcomes. A nil *Metrics records nothing.
type Metrics struct {
	handshakes   *prometheus.CounterVec
	incompatible prometheus.Counter
	errorReports prometheus.Counter
}

// NewMetrics registers the discovery collectors on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "entityd",
			Subsystem: "discovery",
			Name:      "handshakes_total",
			Help:      "Discover calls by outcome.",
		}, []string{"result"}),
		incompatible: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "entityd",
			Subsystem: "discovery",
			Name:      "incompatible_proxies_total",
			Help:      "Handshakes from proxies outside the supported protocol range.",
		}),
		errorReports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "entityd",
			Subsystem: "discovery",
			Name:      "error_reports_total",
			Help:      "UserFunctionError reports received from the proxy.",
		}),
	}
}

func (m *Metrics) observeHandshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) observeIncompatible() {
	if m == nil {
		return
	}
	m.incompatible.Inc()
}

func (m *Metrics) observeErrorReport() {
	if m == nil {
		return
	}
	m.errorReports.Inc()
}
