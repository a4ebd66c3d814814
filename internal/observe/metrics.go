// Package observe provides application-wide observability primitives for
// Verbatim: OpenTelemetry metrics, distributed tracing, and the Prometheus
// exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Verbatim metrics.
const meterName = "github.com/kestrelaudio/verbatim"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-pipeline-stage latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end per-chunk pipeline latency.
	PipelineDuration metric.Float64Histogram

	// ASRDuration tracks the external transcription call latency.
	ASRDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP server request latency. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts audio frames pushed into sessions.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames discarded before processing. Use with
	// attribute: attribute.String("reason", "gate"|"overflow").
	FramesDropped metric.Int64Counter

	// ChunksProcessed counts pipeline passes. Use with attribute:
	//   attribute.String("kind", "interim"|"final")
	ChunksProcessed metric.Int64Counter

	// Hallucinations counts validator verdicts. Use with attributes:
	//   attribute.String("type", ...), attribute.String("action", ...)
	Hallucinations metric.Int64Counter

	// ASRRetries counts transcription retry attempts.
	ASRRetries metric.Int64Counter

	// LatencyDegradations counts sustained-degradation signals raised by the
	// background latency monitor.
	LatencyDegradations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the aggregate backpressure queue occupancy.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for a sub-second transcription pipeline.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("verbatim.stage.duration",
		metric.WithDescription("Latency of individual pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("verbatim.pipeline.duration",
		metric.WithDescription("End-to-end per-chunk pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("verbatim.asr.duration",
		metric.WithDescription("Latency of external transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("verbatim.http.request.duration",
		metric.WithDescription("Latency of HTTP server requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("verbatim.frames.received",
		metric.WithDescription("Total audio frames pushed into sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("verbatim.frames.dropped",
		metric.WithDescription("Total frames discarded, by reason (gate or overflow)."),
	); err != nil {
		return nil, err
	}
	if met.ChunksProcessed, err = m.Int64Counter("verbatim.chunks.processed",
		metric.WithDescription("Total pipeline passes by kind (interim or final)."),
	); err != nil {
		return nil, err
	}
	if met.Hallucinations, err = m.Int64Counter("verbatim.hallucinations",
		metric.WithDescription("Total hallucination verdicts by type and action."),
	); err != nil {
		return nil, err
	}
	if met.ASRRetries, err = m.Int64Counter("verbatim.asr.retries",
		metric.WithDescription("Total transcription retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.LatencyDegradations, err = m.Int64Counter("verbatim.latency.degradations",
		metric.WithDescription("Sustained latency degradation signals from the background monitor."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("verbatim.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("verbatim.queue.depth",
		metric.WithDescription("Aggregate backpressure queue occupancy."),
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

// RecordStage records one stage execution with the standard attribute set.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordChunk records one completed pipeline pass with its kind
// ("interim" or "final").
func (m *Metrics) RecordChunk(ctx context.Context, kind string) {
	m.ChunksProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDrop records one dropped frame with its reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordHallucination records one validator verdict.
func (m *Metrics) RecordHallucination(ctx context.Context, kind, action string) {
	m.Hallucinations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", kind),
			attribute.String("action", action),
		),
	)
}
