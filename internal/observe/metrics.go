// Package observe provides application-wide observability primitives for
// Hermes: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by
// [MetricsHandler] at /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Hermes metrics.
const meterName = "github.com/MrWong99/hermes"

// Chunk outcomes recorded by [Metrics.RecordChunk].
const (
	ChunkEmitted   = "emitted"
	ChunkDelivered = "delivered"
	ChunkEmpty     = "empty"
	ChunkDropped   = "dropped"
	ChunkDiscarded = "discarded"
)

// Translation lookup results recorded by [Metrics.RecordTranslationLookup].
const (
	LookupPhrase      = "phrase"
	LookupHit         = "hit"
	LookupMiss        = "miss"
	LookupPassThrough = "passthrough"
	LookupFailed      = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognizeDuration tracks speech recognition latency per chunk.
	RecognizeDuration metric.Float64Histogram

	// TranslateDuration tracks translation latency (including cache hits).
	TranslateDuration metric.Float64Histogram

	// SpeakDuration tracks how long a single speech task held the output.
	SpeakDuration metric.Float64Histogram

	// EndToEndDuration tracks the time from chunk emission to fan-out.
	EndToEndDuration metric.Float64Histogram

	// --- Counters ---

	// Chunks counts utterance chunks by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	Chunks metric.Int64Counter

	// TranslationLookups counts translation gateway lookups by result. Use
	// with attribute:
	//   attribute.String("result", ...)
	TranslationLookups metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// OverlayUpdates counts overlay show events.
	OverlayUpdates metric.Int64Counter

	// SpeechTasks counts completed speech tasks. Use with attribute:
	//   attribute.String("status", ...)
	SpeechTasks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// SpeechQueueDepth tracks the number of queued speech tasks.
	SpeechQueueDepth metric.Int64UpDownCounter

	// ActivePipelines tracks the number of running pipelines.
	ActivePipelines metric.Int64UpDownCounter

	// InFlightChunks tracks the number of chunks being recognized or
	// translated.
	InFlightChunks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.RecognizeDuration, err = histogram("hermes.recognize.duration",
		"Latency of speech recognition per chunk."); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = histogram("hermes.translate.duration",
		"Latency of text translation, including cache and phrase hits."); err != nil {
		return nil, err
	}
	if met.SpeakDuration, err = histogram("hermes.speak.duration",
		"Time a speech task held the audio output."); err != nil {
		return nil, err
	}
	if met.EndToEndDuration, err = histogram("hermes.end_to_end.duration",
		"Time from chunk emission to output fan-out."); err != nil {
		return nil, err
	}

	// Counters.
	if met.Chunks, err = m.Int64Counter("hermes.chunks",
		metric.WithDescription("Utterance chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranslationLookups, err = m.Int64Counter("hermes.translate.lookups",
		metric.WithDescription("Translation lookups by result (phrase, hit, miss, passthrough, failed)."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hermes.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.OverlayUpdates, err = m.Int64Counter("hermes.overlay.updates",
		metric.WithDescription("Overlay show events."),
	); err != nil {
		return nil, err
	}
	if met.SpeechTasks, err = m.Int64Counter("hermes.speech.tasks",
		metric.WithDescription("Completed speech tasks by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("hermes.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SpeechQueueDepth, err = m.Int64UpDownCounter("hermes.speech.queue_depth",
		metric.WithDescription("Number of speech tasks waiting to be spoken."),
	); err != nil {
		return nil, err
	}
	if met.ActivePipelines, err = m.Int64UpDownCounter("hermes.active_pipelines",
		metric.WithDescription("Number of running pipelines."),
	); err != nil {
		return nil, err
	}
	if met.InFlightChunks, err = m.Int64UpDownCounter("hermes.in_flight_chunks",
		metric.WithDescription("Number of chunks being recognized or translated."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hermes.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunk records one chunk with the given outcome.
func (m *Metrics) RecordChunk(ctx context.Context, outcome string) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTranslationLookup records one translation gateway lookup.
func (m *Metrics) RecordTranslationLookup(ctx context.Context, result string) {
	m.TranslationLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSpeechTask records a finished speech task.
func (m *Metrics) RecordSpeechTask(ctx context.Context, status string) {
	m.SpeechTasks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
