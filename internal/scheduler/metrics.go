package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ticks          *prometheus.CounterVec
	OracleFailures prometheus.Counter
	ActiveTasks    prometheus.Gauge
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "limitorder",
				Subsystem: "scheduler",
				Name:      "ticks_total",
				Help:      "Order evaluations by outcome",
			},
			[]string{"outcome"},
		),
		OracleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "limitorder",
			Subsystem: "scheduler",
			Name:      "oracle_failures_total",
			Help:      "Price reads that failed and were retried on the next tick",
		}),
		ActiveTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "limitorder",
			Subsystem: "scheduler",
			Name:      "active_tasks",
			Help:      "Orders currently being monitored",
		}),
	}
}

func (m *Metrics) tick(outcome State) {
	if m != nil {
		m.Ticks.WithLabelValues(string(outcome)).Inc()
	}
}

func (m *Metrics) oracleFailure() {
	if m != nil {
		m.OracleFailures.Inc()
	}
}

func (m *Metrics) active(delta float64) {
	if m != nil {
		m.ActiveTasks.Add(delta)
	}
}
