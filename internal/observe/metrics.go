// Package observe provides application-wide observability primitives for
// vocalis: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vocalis metrics.
const meterName = "github.com/MrWong99/vocalis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Jobs ---

	// JobsSubmitted counts accepted submissions. Use with attribute:
	//   attribute.String("kind", ...)
	JobsSubmitted metric.Int64Counter

	// JobsFinished counts jobs reaching a terminal state. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	JobsFinished metric.Int64Counter

	// JobDuration tracks wall time from processing start to terminal state.
	JobDuration metric.Float64Histogram

	// ActiveJobs tracks jobs currently in the processing state.
	ActiveJobs metric.Int64UpDownCounter

	// --- Pipeline stages ---

	// DecodeAttempts counts normalizer strategy attempts. Use with attributes:
	//   attribute.String("method", ...), attribute.String("status", ...)
	DecodeAttempts metric.Int64Counter

	// RecognizeDuration tracks latency of a single recognizer call.
	RecognizeDuration metric.Float64Histogram

	// WindowFailures counts recognition windows that failed and were skipped.
	WindowFailures metric.Int64Counter

	// AlignmentFallbacks counts analyses that discarded the greedy alignment
	// in favour of positional pairing.
	AlignmentFallbacks metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts recognizer back-end calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route (the mux pattern) and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for single
// recognizer calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// jobBuckets covers whole-job durations, which include several windows.
var jobBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Jobs.
	if met.JobsSubmitted, err = m.Int64Counter("vocalis.jobs.submitted",
		metric.WithDescription("Total jobs accepted by kind."),
	); err != nil {
		return nil, err
	}
	if met.JobsFinished, err = m.Int64Counter("vocalis.jobs.finished",
		metric.WithDescription("Total jobs reaching a terminal state by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("vocalis.job.duration",
		metric.WithDescription("Wall time of job processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("vocalis.active_jobs",
		metric.WithDescription("Number of jobs currently processing."),
	); err != nil {
		return nil, err
	}

	// Pipeline stages.
	if met.DecodeAttempts, err = m.Int64Counter("vocalis.decode.attempts",
		metric.WithDescription("Audio decode strategy attempts by method and status."),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("vocalis.recognize.duration",
		metric.WithDescription("Latency of a single speech recognition call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WindowFailures, err = m.Int64Counter("vocalis.recognize.window_failures",
		metric.WithDescription("Recognition windows skipped after a recognizer error."),
	); err != nil {
		return nil, err
	}
	if met.AlignmentFallbacks, err = m.Int64Counter("vocalis.alignment.fallbacks",
		metric.WithDescription("Analyses that fell back to positional alignment."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("vocalis.provider.requests",
		metric.WithDescription("Total recognizer back-end requests by provider and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalis.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordJobSubmitted increments the submission counter for kind.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, kind string) {
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordJobStarted marks a job as processing.
func (m *Metrics) RecordJobStarted(ctx context.Context, kind string) {
	m.ActiveJobs.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordJobFinished records a terminal transition and the elapsed processing
// time. It also decrements [Metrics.ActiveJobs].
func (m *Metrics) RecordJobFinished(ctx context.Context, kind, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.JobsFinished.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.ActiveJobs.Add(ctx, -1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDecodeAttempt records one normalizer strategy attempt.
func (m *Metrics) RecordDecodeAttempt(ctx context.Context, method string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.DecodeAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}
