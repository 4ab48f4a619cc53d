package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	connections   prometheus.Gauge
	registrations *prometheus.CounterVec
	forwarded     *prometheus.CounterVec
}

// NewMetrics registers the signaling metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "patchroom",
			Subsystem: "signal",
			Name:      "connections",
			Help:      "Open signaling websockets",
		}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchroom",
			Subsystem: "signal",
			Name:      "registrations_total",
			Help:      "Rendezvous registrations by result",
		}, []string{"result"}),
		forwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchroom",
			Subsystem: "signal",
			Name:      "forwarded_total",
			Help:      "Signal envelopes forwarded by result",
		}, []string{"result"}),
	}
}
