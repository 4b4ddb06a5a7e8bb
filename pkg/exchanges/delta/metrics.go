package delta

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the dispatcher's prometheus collectors.
type Metrics struct {
	requests    *prometheus.CounterVec
	retries     prometheus.Counter
	exhausted   prometheus.Counter
	degraded    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	clockOffset prometheus.Gauge
}

// NewMetrics builds the collectors for one account and registers them on
// reg when non-nil.
func NewMetrics(reg prometheus.Registerer, account string) *Metrics {
	labels := prometheus.Labels{"account": account}
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "gateway_venue_requests_total",
				Help:        "Signed venue calls by method and outcome kind",
				ConstLabels: labels,
			},
			[]string{"method", "outcome"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_signature_retries_total",
			Help:        "Re-signed attempts after an expired signature",
			ConstLabels: labels,
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_signature_retries_exhausted_total",
			Help:        "Calls that ran out of signature retries",
			ConstLabels: labels,
		}),
		degraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "gateway_degraded_reads_total",
				Help:        "GET calls answered with an empty result after a venue failure",
				ConstLabels: labels,
			},
			[]string{"path"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "gateway_venue_request_seconds",
				Help:        "Latency of single venue HTTP attempts",
				ConstLabels: labels,
				Buckets:     []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		clockOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "gateway_clock_offset_seconds",
			Help:        "Venue time minus local time",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		// A gateway rebuilt for the same account keeps its series.
		m.requests = register(reg, m.requests)
		m.retries = register(reg, m.retries)
		m.exhausted = register(reg, m.exhausted)
		m.degraded = register(reg, m.degraded)
		m.latency = register(reg, m.latency)
		m.clockOffset = register(reg, m.clockOffset)
	}
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
