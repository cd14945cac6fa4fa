package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type VideopressMetrics struct {
	Version prometheus.Gauge

	JobsEnqueued   prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsInFlight   prometheus.Gauge
	JobDurationSec prometheus.Histogram

	StageDurationSec *prometheus.SummaryVec

	WebhookDeliveries *prometheus.CounterVec
}

func NewMetrics() *VideopressMetrics {
	m := &VideopressMetrics{
		Version: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videopress_up",
			Help: "Set to 1 while the service is running",
		}),
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videopress_jobs_enqueued_total",
			Help: "Number of compression jobs accepted",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videopress_jobs_completed_total",
			Help: "Number of compression jobs that reached a successful terminal state",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videopress_jobs_failed_total",
			Help: "Number of compression jobs that exhausted their attempts",
		}),
		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videopress_jobs_in_flight",
			Help: "Jobs currently being processed by this worker",
		}),
		JobDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "videopress_job_duration_seconds",
			Help:    "Wall-clock time spent per job attempt",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		StageDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "videopress_stage_duration_seconds",
			Help: "Time spent in each pipeline stage",
		}, []string{"stage"}),
		WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "videopress_webhook_deliveries_total",
			Help: "Webhook delivery outcomes",
		}, []string{"outcome"}),
	}

	m.Version.Set(1)
	return m
}

var Metrics = NewMetrics()
