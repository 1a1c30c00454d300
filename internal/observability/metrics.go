package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds application metrics. All Record methods are safe on a nil
// receiver so components can run without metrics in tests.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter
	RateLimitedTotal    metric.Int64Counter

	// Job lifecycle metrics
	JobsAdmitted      metric.Int64Counter
	JobsDeduplicated  metric.Int64Counter
	JobsActive        metric.Int64UpDownCounter
	JobDuration       metric.Float64Histogram
	JobsFinished      metric.Int64Counter
	JobsReclaimed     metric.Int64Counter
	CallbacksTotal    metric.Int64Counter
	StoreRetriesTotal metric.Int64Counter

	// Dispatcher metrics
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("docjobs")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RateLimitedTotal, err = meter.Int64Counter(
		"rate_limited_total",
		metric.WithDescription("Total number of requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Job metrics
	m.JobsAdmitted, err = meter.Int64Counter(
		"jobs_admitted_total",
		metric.WithDescription("Total number of jobs created by admission"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsDeduplicated, err = meter.Int64Counter(
		"jobs_admission_deduplicated_total",
		metric.WithDescription("Admissions resolved to an already active job"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of non-terminal jobs admitted by this instance (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Time from admission to terminal status in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(10, 30, 60, 120, 300, 600, 900, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsFinished, err = meter.Int64Counter(
		"jobs_finished_total",
		metric.WithDescription("Total number of jobs reaching a terminal status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsReclaimed, err = meter.Int64Counter(
		"jobs_reclaimed_total",
		metric.WithDescription("Total number of stuck jobs force-terminated"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CallbacksTotal, err = meter.Int64Counter(
		"callbacks_total",
		metric.WithDescription("Worker callbacks by event type and outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StoreRetriesTotal, err = meter.Int64Counter(
		"store_retries_total",
		metric.WithDescription("Store calls retried after a transient failure"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Notification delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Add(ctx, 1, metric.WithAttributes(pathAttr(path)))
}

// RecordJobAdmitted records an admission. Deduplicated admissions resolved to
// an existing job and did not create one.
func (m *Metrics) RecordJobAdmitted(ctx context.Context, deduplicated bool) {
	if m == nil {
		return
	}
	if deduplicated {
		m.JobsDeduplicated.Add(ctx, 1)
		return
	}
	m.JobsAdmitted.Add(ctx, 1)
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished records a job reaching a terminal status.
func (m *Metrics) RecordJobFinished(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(jobStatusAttr(status))
	m.JobsFinished.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1)
}

// RecordJobsReclaimed records jobs force-terminated by a stuck-job sweep.
func (m *Metrics) RecordJobsReclaimed(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.JobsReclaimed.Add(ctx, int64(count))
}

// RecordCallback records a worker callback and how it was resolved.
func (m *Metrics) RecordCallback(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.Add(ctx, 1, metric.WithAttributes(eventTypeAttr(eventType), outcomeAttr(outcome)))
}

// RecordStoreRetry records a store call retried after a transient failure.
func (m *Metrics) RecordStoreRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.StoreRetriesTotal.Add(ctx, 1)
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	if m == nil {
		return
	}
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	if m == nil {
		return
	}
	m.DispatcherQueueSize.Record(ctx, size)
}
