// Package observe provides the observability primitives of livescribe:
// OpenTelemetry metrics for the capture and recognition loops, tracing of
// individual transcriptions, trace-aware logging, and HTTP middleware for the
// health and metrics endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with a
// [sdkmetric.ManualReader]-backed provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Queue names used as the "queue" attribute of QueueDepth.
const (
	QueueSegments = "segments"
	QueueResults  = "results"
)

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// Segments counts voiced segments emitted by the segmenter.
	Segments metric.Int64Counter

	// SegmentDuration tracks the audio length of emitted segments.
	SegmentDuration metric.Float64Histogram

	// STTDuration tracks the latency of a single transcription attempt. Use
	// with attribute.String("status", ...).
	STTDuration metric.Float64Histogram

	// Outcomes counts delivered outcomes. Use with attribute:
	//   attribute.String("kind", ...)
	Outcomes metric.Int64Counter

	// STTRetries counts retried transcription attempts.
	STTRetries metric.Int64Counter

	// QueueDepth tracks the number of items waiting in a queue. Use with
	// attribute.String("queue", QueueSegments|QueueResults).
	QueueDepth metric.Int64UpDownCounter

	// SegmentsDropped counts segments evicted from a bounded segment queue.
	SegmentsDropped metric.Int64Counter

	// HTTPRequestDuration tracks operational HTTP latency. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// transcription calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// segmentBuckets covers utterances from a short word to a long phrase.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Segments, err = m.Int64Counter("livescribe.segments",
		metric.WithDescription("Voiced segments emitted by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("livescribe.segment.duration",
		metric.WithDescription("Audio length of emitted segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("livescribe.stt.duration",
		metric.WithDescription("Latency of a single transcription attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Outcomes, err = m.Int64Counter("livescribe.outcomes",
		metric.WithDescription("Delivered outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.STTRetries, err = m.Int64Counter("livescribe.stt.retries",
		metric.WithDescription("Transcription attempts that were retries of a short unintelligible segment."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("livescribe.queue.depth",
		metric.WithDescription("Items waiting in a pipeline queue."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("livescribe.segments.dropped",
		metric.WithDescription("Segments evicted from a full segment queue."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
		metric.WithDescription("Operational HTTP request latency by endpoint and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegment counts one emitted segment of length d.
func (m *Metrics) RecordSegment(ctx context.Context, d time.Duration) {
	m.Segments.Add(ctx, 1)
	m.SegmentDuration.Record(ctx, d.Seconds())
}

// RecordTranscription records the latency of one attempt with its status.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, status string) {
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordOutcome counts one delivered outcome of the given kind.
func (m *Metrics) RecordOutcome(ctx context.Context, kind string) {
	m.Outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// QueueAdd adjusts the depth of the named queue by delta.
func (m *Metrics) QueueAdd(ctx context.Context, queue string, delta int64) {
	m.QueueDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("queue", queue)))
}
