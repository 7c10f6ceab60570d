// Package observe provides application-wide observability primitives for
// wakecore: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all wakecore metrics.
const meterName = "github.com/MrWong99/wakecore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DrainDuration tracks how long one event-loop batch takes to execute.
	DrainDuration metric.Float64Histogram

	// EncodeDuration tracks wake-word history encoding latency.
	EncodeDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts device state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// WakeWordDetections counts wake-word hits. Use with attribute:
	//   attribute.String("word", ...)
	WakeWordDetections metric.Int64Counter

	// TasksExecuted counts deferred tasks run by the event loop.
	TasksExecuted metric.Int64Counter

	// AudioSamples counts PCM samples moved through the codec. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	AudioSamples metric.Int64Counter

	// --- Error counters ---

	// TaskPanics counts deferred tasks that panicked.
	TaskPanics metric.Int64Counter

	// CodecErrors counts failed codec reads/writes. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	CodecErrors metric.Int64Counter

	// --- Gauges ---

	// FreeMemory reports the most recent free-memory sample in bytes.
	FreeMemory metric.Int64Gauge

	// MinFreeMemory reports the lowest free-memory sample seen in bytes.
	MinFreeMemory metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// millisecond-scale device work.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DrainDuration, err = m.Float64Histogram("wakecore.eventloop.drain.duration",
		metric.WithDescription("Time spent executing one batch of deferred tasks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("wakecore.wakeword.encode.duration",
		metric.WithDescription("Latency of wake-word history encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StateTransitions, err = m.Int64Counter("wakecore.device.state_transitions",
		metric.WithDescription("Total device state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.WakeWordDetections, err = m.Int64Counter("wakecore.wakeword.detections",
		metric.WithDescription("Total wake-word detections by phrase."),
	); err != nil {
		return nil, err
	}
	if met.TasksExecuted, err = m.Int64Counter("wakecore.eventloop.tasks",
		metric.WithDescription("Total deferred tasks executed by the event loop."),
	); err != nil {
		return nil, err
	}
	if met.AudioSamples, err = m.Int64Counter("wakecore.audio.samples",
		metric.WithDescription("Total PCM samples moved through the codec by direction."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TaskPanics, err = m.Int64Counter("wakecore.eventloop.task_panics",
		metric.WithDescription("Total deferred tasks that panicked."),
	); err != nil {
		return nil, err
	}
	if met.CodecErrors, err = m.Int64Counter("wakecore.audio.codec_errors",
		metric.WithDescription("Total codec I/O errors by direction."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.FreeMemory, err = m.Int64Gauge("wakecore.memory.free",
		metric.WithDescription("Most recent free-memory sample."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.MinFreeMemory, err = m.Int64Gauge("wakecore.memory.min_free",
		metric.WithDescription("Lowest free-memory sample observed."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wakecore.http.request.duration",
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

// RecordStateTransition records one device state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordWakeWord records one wake-word detection.
func (m *Metrics) RecordWakeWord(ctx context.Context, word string) {
	m.WakeWordDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("word", word)),
	)
}

// RecordAudioSamples adds n to the sample counter for direction.
func (m *Metrics) RecordAudioSamples(ctx context.Context, direction string, n int) {
	m.AudioSamples.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordCodecError records one codec I/O failure for direction.
func (m *Metrics) RecordCodecError(ctx context.Context, direction string) {
	m.CodecErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordMemory records the current and minimum free memory in bytes.
func (m *Metrics) RecordMemory(ctx context.Context, free, minFree int64) {
	m.FreeMemory.Record(ctx, free)
	m.MinFreeMemory.Record(ctx, minFree)
}
