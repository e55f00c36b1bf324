package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks queue throughput for the daemon's /metrics endpoint.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
}

// NewMetrics builds and registers the queue metric set.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listenarr",
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Jobs enqueued, by type.",
		}, []string{"type"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "listenarr",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Job executions, by type and outcome.",
		}, []string{"type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "listenarr",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job handler duration, by type.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "listenarr",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Handlers currently executing, by type.",
		}, []string{"type"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.enqueued, m.processed, m.duration, m.inFlight)
	}
	return m
}

func (m *Metrics) observe(jobType Type, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	m.processed.WithLabelValues(string(jobType), outcome).Inc()
	m.duration.WithLabelValues(string(jobType)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) trackInFlight(jobType Type, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(jobType)).Add(delta)
}
