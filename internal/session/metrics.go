package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robert-at-pretension-io/logicsim/internal/eval"
)

// Metrics are the Prometheus collectors of a session.
type Metrics struct {
	Ticks       prometheus.Counter
	Unsettled   prometheus.Counter
	Faults      prometheus.Counter
	Passes      prometheus.Histogram
	TickSeconds prometheus.Histogram
	Running     prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logicsim",
			Subsystem: "session",
			Name:      "ticks_total",
			Help:      "Evaluations run by the session.",
		}),
		Unsettled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logicsim",
			Subsystem: "session",
			Name:      "unsettled_total",
			Help:      "Evaluations cut off by the pass cap.",
		}),
		Faults: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logicsim",
			Subsystem: "session",
			Name:      "script_faults_total",
			Help:      "Module program faults reported by evaluations.",
		}),
		Passes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logicsim",
			Subsystem: "session",
			Name:      "passes",
			Help:      "Relaxation passes per evaluation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		TickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "logicsim",
			Subsystem: "session",
			Name:      "tick_seconds",
			Help:      "Wall time of one evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "logicsim",
			Subsystem: "session",
			Name:      "running",
			Help:      "1 while the session timer is running.",
		}),
	}
}

func (m *Metrics) observe(rep *eval.Report, d time.Duration) {
	m.Ticks.Inc()
	m.TickSeconds.Observe(d.Seconds())
	if rep == nil {
		return
	}
	m.Passes.Observe(float64(rep.Passes))
	m.Faults.Add(float64(len(rep.Faults)))
	if !rep.Quiescent {
		m.Unsettled.Inc()
	}
}
