// Package metrics defines the Prometheus instrumentation for the
// transcription service: HTTP traffic, queue pressure, and inference timing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Transcription pipeline metrics
	JobsSubmitted     prometheus.Counter
	JobsCompleted     prometheus.Counter
	JobsFailed        *prometheus.CounterVec
	JobsRejected      prometheus.Counter
	InferenceTimeouts prometheus.Counter
	SilenceSkips      prometheus.Counter
	InferenceDuration prometheus.Histogram
	AudioDuration     prometheus.Histogram
	QueueDepth        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers the metrics with a caller-supplied
// registry. Tests use this to avoid duplicate registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_jobs_submitted_total",
			Help: "Total number of transcription jobs admitted to the queue",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_jobs_completed_total",
			Help: "Total number of transcription jobs completed successfully",
		}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_jobs_failed_total",
			Help: "Total number of transcription jobs that ended in an error",
		}, []string{"kind"}),
		JobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_jobs_rejected_total",
			Help: "Total number of jobs rejected because the queue was full",
		}),
		InferenceTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_inference_timeouts_total",
			Help: "Total number of jobs that exceeded their time budget",
		}),
		SilenceSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcriber_silence_skips_total",
			Help: "Total number of silent clips answered without running the model",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_inference_duration_seconds",
			Help:    "Wall-clock duration of model inference calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcriber_audio_duration_seconds",
			Help:    "Duration of normalized audio submitted for transcription",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~34 minutes
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcriber_queue_depth",
			Help: "Current number of jobs waiting in the queue",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcriber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcriber_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobSubmitted increments the submitted jobs counter
func (m *Metrics) RecordJobSubmitted(audioSeconds float64) {
	m.JobsSubmitted.Inc()
	m.AudioDuration.Observe(audioSeconds)
}

// RecordJobCompleted records a successful job and its inference time
func (m *Metrics) RecordJobCompleted(inferenceSeconds float64) {
	m.JobsCompleted.Inc()
	m.InferenceDuration.Observe(inferenceSeconds)
}

// RecordJobFailed records a failed job by error kind
func (m *Metrics) RecordJobFailed(kind string) {
	m.JobsFailed.WithLabelValues(kind).Inc()
}

// RecordJobRejected increments the rejected jobs counter
func (m *Metrics) RecordJobRejected() {
	m.JobsRejected.Inc()
}

// RecordInferenceTimeout increments the timeout counter
func (m *Metrics) RecordInferenceTimeout() {
	m.InferenceTimeouts.Inc()
}

// RecordSilenceSkip increments the silence gate counter
func (m *Metrics) RecordSilenceSkip() {
	m.SilenceSkips.Inc()
}

// SetQueueDepth sets the current queue depth gauge
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
