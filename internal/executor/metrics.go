package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the executor's Prometheus collectors.
type Metrics struct {
	Executions *prometheus.CounterVec
	Latency    prometheus.Histogram
}

// NewMetrics registers the executor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "limitorder",
				Subsystem: "executor",
				Name:      "executions_total",
				Help:      "Order executions by outcome and failure reason",
			},
			[]string{"outcome", "reason"},
		),
		Latency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "limitorder",
				Subsystem: "executor",
				Name:      "execution_seconds",
				Help:      "Time from condition match to recorded outcome",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
	}
}

func (m *Metrics) observe(res Result, took time.Duration) {
	if m == nil {
		return
	}
	if res.Failure != nil {
		m.Executions.WithLabelValues("failed", string(res.Failure.Reason)).Inc()
	} else {
		m.Executions.WithLabelValues("executed", "").Inc()
	}
	m.Latency.Observe(took.Seconds())
}
