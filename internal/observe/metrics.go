// Package observe provides application-wide observability primitives for
// phonemix: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus registry served on /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all phonemix metrics.
const meterName = "github.com/MrWong99/phonemix"

// Analysis outcomes recorded by [Metrics.RecordAnalysis].
const (
	OutcomeAnalyzed    = "analyzed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// PreviewBuildDuration tracks how long one admitted preview build takes.
	PreviewBuildDuration metric.Float64Histogram

	// AnalysisDuration tracks sentence analysis latency. Use with attribute:
	//   attribute.String("outcome", ...)
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// PreviewCacheHits counts preview requests served from the cache.
	PreviewCacheHits metric.Int64Counter

	// PreviewCacheMisses counts preview requests that had to wait for a build.
	PreviewCacheMisses metric.Int64Counter

	// PreviewBuilds counts completed preview builds.
	PreviewBuilds metric.Int64Counter

	// PreviewCancellations counts preview requests that ended cancelled.
	PreviewCancellations metric.Int64Counter

	// AnalysisOutcomes counts finished analyses. Use with attribute:
	//   attribute.String("outcome", ...)
	AnalysisOutcomes metric.Int64Counter

	// FrameDecodes counts phoneme clip decodes. Use with attribute:
	//   attribute.String("status", ...)
	FrameDecodes metric.Int64Counter

	// StoreRequests counts result store calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveTasks tracks background tasks currently executing.
	ActiveTasks metric.Int64UpDownCounter

	// SinkClients tracks connected preview sink clients.
	SinkClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// decode-heavy preview builds and engine calls.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PreviewBuildDuration, err = m.Float64Histogram("phonemix.preview.build.duration",
		metric.WithDescription("Latency of a single admitted preview build."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("phonemix.analysis.duration",
		metric.WithDescription("Latency of sentence analysis by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PreviewCacheHits, err = m.Int64Counter("phonemix.preview.cache.hits",
		metric.WithDescription("Preview requests served from the cache."),
	); err != nil {
		return nil, err
	}
	if met.PreviewCacheMisses, err = m.Int64Counter("phonemix.preview.cache.misses",
		metric.WithDescription("Preview requests that were not cached on arrival."),
	); err != nil {
		return nil, err
	}
	if met.PreviewBuilds, err = m.Int64Counter("phonemix.preview.builds",
		metric.WithDescription("Completed preview builds."),
	); err != nil {
		return nil, err
	}
	if met.PreviewCancellations, err = m.Int64Counter("phonemix.preview.cancellations",
		metric.WithDescription("Preview requests that ended cancelled."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisOutcomes, err = m.Int64Counter("phonemix.analysis.outcomes",
		metric.WithDescription("Finished analyses by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FrameDecodes, err = m.Int64Counter("phonemix.framecache.decodes",
		metric.WithDescription("Phoneme clip decodes by status."),
	); err != nil {
		return nil, err
	}
	if met.StoreRequests, err = m.Int64Counter("phonemix.store.requests",
		metric.WithDescription("Result store calls by operation and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTasks, err = m.Int64UpDownCounter("phonemix.tasks.active",
		metric.WithDescription("Background tasks currently executing."),
	); err != nil {
		return nil, err
	}
	if met.SinkClients, err = m.Int64UpDownCounter("phonemix.sink.clients",
		metric.WithDescription("Connected preview sink clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("phonemix.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordAnalysis records one finished analysis with its outcome.
func (m *Metrics) RecordAnalysis(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.AnalysisOutcomes.Add(ctx, 1, attrs)
	m.AnalysisDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordPreviewBuild records one completed preview build.
func (m *Metrics) RecordPreviewBuild(ctx context.Context, d time.Duration) {
	m.PreviewBuilds.Add(ctx, 1)
	m.PreviewBuildDuration.Record(ctx, d.Seconds())
}

// RecordFrameDecode records one phoneme decode attempt.
func (m *Metrics) RecordFrameDecode(ctx context.Context, status string) {
	m.FrameDecodes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStoreRequest records one result store call.
func (m *Metrics) RecordStoreRequest(ctx context.Context, op, status string) {
	m.StoreRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
