package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/therapy-intel/internal/model"
)

const metricsNamespace = "therapy_intel"

// Metrics holds the Prometheus collectors. It satisfies worker.Recorder,
// review.Recorder, and Observer.
type Metrics struct {
	QueueDepth         *prometheus.GaugeVec
	StuckJobs          prometheus.Gauge
	ExhaustedJobs      prometheus.Gauge
	AvgDurationSeconds prometheus.Gauge
	ReviewBacklog      prometheus.Gauge
	JobOutcomes        *prometheus.CounterVec
	MergeOutcomes      *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "jobs",
			Help:      "Jobs by status at the last health check",
		}, []string{"status"}),
		StuckJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "stuck_jobs",
			Help:      "Processing jobs older than the stuck timeout",
		}),
		ExhaustedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "exhausted_jobs",
			Help:      "Failed jobs with no retry budget left",
		}),
		AvgDurationSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "queue",
			Name:      "avg_job_duration_seconds",
			Help:      "Average duration of completed jobs",
		}),
		ReviewBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "review",
			Name:      "pending_extractions",
			Help:      "Extractions awaiting review",
		}),
		JobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs handled by the worker, by outcome",
		}, []string{"outcome"}),
		MergeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "review",
			Name:      "decisions_total",
			Help:      "Review decisions, by outcome",
		}, []string{"outcome"}),
	}
}

// Observe implements Observer.
func (m *Metrics) Observe(snap *Snapshot) {
	q := snap.Queue
	m.QueueDepth.WithLabelValues(string(model.JobStatusPending)).Set(float64(q.Pending))
	m.QueueDepth.WithLabelValues(string(model.JobStatusProcessing)).Set(float64(q.Processing))
	m.QueueDepth.WithLabelValues(string(model.JobStatusCompleted)).Set(float64(q.Completed))
	m.QueueDepth.WithLabelValues(string(model.JobStatusFailed)).Set(float64(q.Failed))
	m.StuckJobs.Set(float64(q.Stuck))
	m.ExhaustedJobs.Set(float64(q.Exhausted))
	m.AvgDurationSeconds.Set(q.AvgDurationSeconds)
	m.ReviewBacklog.Set(float64(snap.ReviewBacklog))
}

// RecordJob implements worker.Recorder.
func (m *Metrics) RecordJob(outcome string) {
	m.JobOutcomes.WithLabelValues(outcome).Inc()
}

// RecordMerge implements review.Recorder.
func (m *Metrics) RecordMerge(outcome string) {
	m.MergeOutcomes.WithLabelValues(outcome).Inc()
}
