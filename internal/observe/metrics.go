// Package observe provides application-wide observability primitives for
// uttermon: OpenTelemetry metrics, tracing, trace-aware structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all uttermon metrics.
const meterName = "github.com/MrWong99/uttermon"

// Utterance outcomes recorded on [Metrics.Utterances].
const (
	OutcomeEmitted   = "emitted"
	OutcomeDiscarded = "discarded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// Frames counts frames pulled from the audio source.
	Frames metric.Int64Counter

	// FrameStatuses counts driver status flags. Use with attribute:
	//   attribute.String("status", ...)
	FrameStatuses metric.Int64Counter

	// DroppedFrames counts frames the driver callback could not enqueue.
	DroppedFrames metric.Int64Counter

	// --- Segmentation ---

	// Utterances counts finished accumulations. Use with attribute:
	//   attribute.String("outcome", OutcomeEmitted|OutcomeDiscarded)
	Utterances metric.Int64Counter

	// UtteranceDuration tracks the audio length of emitted utterances.
	UtteranceDuration metric.Float64Histogram

	// VADStateChanges counts speaking/silent transitions. Use with attribute:
	//   attribute.Bool("speaking", ...)
	VADStateChanges metric.Int64Counter

	// --- Transcription ---

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// STTRequests counts transcription calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	STTRequests metric.Int64Counter

	// STTErrors counts failed transcriptions by provider.
	STTErrors metric.Int64Counter

	// SuppressedTranscripts counts results dropped by a filter. Use with
	// attribute: attribute.String("reason", ...)
	SuppressedTranscripts metric.Int64Counter

	// PendingTranscriptions tracks utterances queued or in flight.
	PendingTranscriptions metric.Int64UpDownCounter

	// --- Feed ---

	// WebsocketClients tracks connected transcript feed clients.
	WebsocketClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latency.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) for
// utterance audio length.
var utteranceBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.Frames, err = m.Int64Counter("uttermon.audio.frames",
		metric.WithDescription("Total audio frames pulled from the source."),
	); err != nil {
		return nil, err
	}
	if met.FrameStatuses, err = m.Int64Counter("uttermon.audio.frame_statuses",
		metric.WithDescription("Driver status flags reported alongside frames."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("uttermon.audio.dropped_frames",
		metric.WithDescription("Frames dropped because the capture queue was full."),
	); err != nil {
		return nil, err
	}

	// Segmentation.
	if met.Utterances, err = m.Int64Counter("uttermon.utterances",
		metric.WithDescription("Finished accumulations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("uttermon.utterance.duration",
		metric.WithDescription("Audio length of emitted utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADStateChanges, err = m.Int64Counter("uttermon.vad.state_changes",
		metric.WithDescription("Voice activity transitions by new state."),
	); err != nil {
		return nil, err
	}

	// Transcription.
	if met.STTDuration, err = m.Float64Histogram("uttermon.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTRequests, err = m.Int64Counter("uttermon.stt.requests",
		metric.WithDescription("Total transcription requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.STTErrors, err = m.Int64Counter("uttermon.stt.errors",
		metric.WithDescription("Total transcription errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.SuppressedTranscripts, err = m.Int64Counter("uttermon.stt.suppressed",
		metric.WithDescription("Transcripts dropped by a suppression filter."),
	); err != nil {
		return nil, err
	}
	if met.PendingTranscriptions, err = m.Int64UpDownCounter("uttermon.stt.pending",
		metric.WithDescription("Utterances waiting for or undergoing transcription."),
	); err != nil {
		return nil, err
	}

	// Feed.
	if met.WebsocketClients, err = m.Int64UpDownCounter("uttermon.feed.clients",
		metric.WithDescription("Connected transcript feed clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("uttermon.http.request.duration",
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
// pointer. Panics if instrument creation fails.
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

// RecordFrameStatus counts one driver status flag.
func (m *Metrics) RecordFrameStatus(ctx context.Context, status string) {
	m.FrameStatuses.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordUtterance counts a finished accumulation. seconds is only recorded
// for emitted utterances.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == OutcomeEmitted {
		m.UtteranceDuration.Record(ctx, seconds)
	}
}

// RecordVADState counts a voice activity transition.
func (m *Metrics) RecordVADState(ctx context.Context, speaking bool) {
	m.VADStateChanges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("speaking", speaking)))
}

// RecordSTTRequest records a transcription request counter increment with
// the standard attribute set.
func (m *Metrics) RecordSTTRequest(ctx context.Context, provider, status string) {
	m.STTRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordSTTError records a transcription error counter increment.
func (m *Metrics) RecordSTTError(ctx context.Context, provider string) {
	m.STTErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordSuppressed counts a transcript dropped by a filter.
func (m *Metrics) RecordSuppressed(ctx context.Context, reason string) {
	m.SuppressedTranscripts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
