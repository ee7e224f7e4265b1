package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder observes completed gateway calls
type MetricsRecorder interface {
	ObserveCall(method string, outcome Kind, duration time.Duration)
}

// outcomeOK labels successful calls
const outcomeOK Kind = "ok"

// Collector records gateway calls as Prometheus metrics.
type Collector struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_gateway_calls_total",
			Help: "Gateway calls by HTTP method and outcome kind",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coach_gateway_call_duration_seconds",
			Help:    "Gateway call latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(c.calls, c.latency)
	return c
}

func (c *Collector) ObserveCall(method string, outcome Kind, duration time.Duration) {
	if outcome == "" {
		outcome = outcomeOK
	}
	c.calls.WithLabelValues(method, string(outcome)).Inc()
	c.latency.WithLabelValues(method).Observe(duration.Seconds())
}

type nopMetrics struct{}

func (nopMetrics) ObserveCall(string, Kind, time.Duration) {}
