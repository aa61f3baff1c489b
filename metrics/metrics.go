package metrics

import (
	"github.com/livepeer/catalyst-render/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type RenderMetrics struct {
	Version *prometheus.CounterVec

	JobsInFlight    prometheus.Gauge
	NodeStatus      *prometheus.CounterVec
	RenditionErrors *prometheus.CounterVec
	ManifestMerges  *prometheus.CounterVec
	UploadRetries   *prometheus.CounterVec
	ProgressUpdates prometheus.Counter
	JobDurationSec  *prometheus.HistogramVec

	Webhook ClientMetrics
	Uploads ClientMetrics
}

func NewMetrics() *RenderMetrics {
	m := &RenderMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "version",
			Help: "Current Git SHA / Tag that's running. Incremented once on app startup.",
		}, []string{"app", "version"}),

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "A count of the jobs currently being processed by this worker",
		}),
		NodeStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "controller_node_status_total",
			Help: "Transitions of Controller member nodes by kind and terminal status",
		}, []string{"kind", "status"}),
		RenditionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rendition_errors_total",
			Help: "Number of Outputs that ended in Error",
		}, []string{"reason"}),
		ManifestMerges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "manifest_merges_total",
			Help: "Number of Manifest Merger runs by format",
		}, []string{"format"}),
		UploadRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "uploader_retries_total",
			Help: "Number of retried uploads by host",
		}, []string{"host"}),
		ProgressUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "progress_updates_total",
			Help: "Number of persisted (5%-bucketed) progress updates",
		}),
		JobDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Time from Job start to Job completion",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"status"}),

		Webhook: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "webhook_retry_count",
				Help: "The number of retried webhook deliveries",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "webhook_failure_count",
				Help: "The total number of failed webhook deliveries",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "webhook_request_duration_seconds",
				Help:    "Time taken to deliver a webhook",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},
		Uploads: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "object_store_retry_count",
				Help: "The number of retried object store requests",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "object_store_failure_count",
				Help: "The total number of failed object store requests",
			}, []string{"host"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "object_store_request_duration_seconds",
				Help:    "Time taken to upload a file",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},
	}

	m.Version.WithLabelValues("catalyst-render", config.Version).Inc()

	return m
}

var Metrics = NewMetrics()
