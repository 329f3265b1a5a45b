// Package observe provides application-wide observability primitives for
// voxnote: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxnote metrics.
const meterName = "github.com/voxnote/voxnote"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// VADInferenceDuration tracks per-frame speech-confidence model latency.
	VADInferenceDuration metric.Float64Histogram

	// TranscriptionDuration tracks segment transcription latency. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	TranscriptionDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of recorded speech segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsRecorded counts closed recording windows handed to transcription.
	SegmentsRecorded metric.Int64Counter

	// NotesCreated counts notes persisted after passing the quality gate.
	NotesCreated metric.Int64Counter

	// HallucinationRejects counts transcripts discarded by the quality gate.
	// Use with attribute: attribute.String("reason", ...)
	HallucinationRejects metric.Int64Counter

	// SequenceGaps counts detected gaps in inbound session event sequences.
	SequenceGaps metric.Int64Counter

	// IgnoredCooldown counts speech starts discarded because the session was
	// inside its cooldown window.
	IgnoredCooldown metric.Int64Counter

	// FramesDropped counts audio frames dropped by the delivery bridge.
	FramesDropped metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRecordings tracks how many sessions currently have an open
	// recording window.
	ActiveRecordings metric.Int64UpDownCounter

	// VADConfidence tracks the detector's current speech confidence. Use
	// with attribute: attribute.String("kind", "smoothed"|"raw")
	VADConfidence metric.Float64Gauge

	// VADState tracks the detector's hysteresis state
	// (0 silence, 1 speech, 2 maybe_silence).
	VADState metric.Int64Gauge

	// VADAccumulatedSeconds tracks the running speech and silence
	// accumulators of the detector. Use with attribute:
	//   attribute.String("phase", "speech"|"silence")
	VADAccumulatedSeconds metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies: sub-hop VAD inference at the low end,
// multi-second transcription calls at the high end.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets covers plausible speech segment lengths in seconds, capped
// by the 30 s max-duration guard.
var segmentBuckets = []float64{
	0.5, 1, 2, 5, 10, 15, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.VADInferenceDuration, err = m.Float64Histogram("voxnote.vad.inference.duration",
		metric.WithDescription("Per-frame latency of the speech-confidence model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("voxnote.stt.duration",
		metric.WithDescription("Latency of segment transcription by provider and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voxnote.segment.duration",
		metric.WithDescription("Audio length of recorded speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsRecorded, err = m.Int64Counter("voxnote.segments.recorded",
		metric.WithDescription("Total closed recording windows handed to transcription."),
	); err != nil {
		return nil, err
	}
	if met.NotesCreated, err = m.Int64Counter("voxnote.notes.created",
		metric.WithDescription("Total notes persisted after passing the quality gate."),
	); err != nil {
		return nil, err
	}
	if met.HallucinationRejects, err = m.Int64Counter("voxnote.transcript.rejects",
		metric.WithDescription("Total transcripts discarded by the quality gate, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SequenceGaps, err = m.Int64Counter("voxnote.sequence.gaps",
		metric.WithDescription("Total gaps detected in inbound session event sequences."),
	); err != nil {
		return nil, err
	}
	if met.IgnoredCooldown, err = m.Int64Counter("voxnote.cooldown.ignored",
		metric.WithDescription("Total speech starts ignored during a cooldown window."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxnote.frames.dropped",
		metric.WithDescription("Total audio frames dropped by the delivery bridge."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxnote.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxnote.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("voxnote.active_recordings",
		metric.WithDescription("Number of sessions with an open recording window."),
	); err != nil {
		return nil, err
	}

	if met.VADConfidence, err = m.Float64Gauge("voxnote.vad.confidence",
		metric.WithDescription("Current speech confidence, smoothed and raw."),
	); err != nil {
		return nil, err
	}
	if met.VADState, err = m.Int64Gauge("voxnote.vad.state",
		metric.WithDescription("Detector hysteresis state (0 silence, 1 speech, 2 maybe_silence)."),
	); err != nil {
		return nil, err
	}
	if met.VADAccumulatedSeconds, err = m.Float64Gauge("voxnote.vad.accumulated",
		metric.WithDescription("Running speech and silence accumulators of the detector."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxnote.http.request.duration",
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

// RecordTranscription records one transcription call with its latency and
// outcome.
func (m *Metrics) RecordTranscription(ctx context.Context, provider, status string, seconds float64) {
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordHallucinationReject records one quality-gate rejection by reason.
func (m *Metrics) RecordHallucinationReject(ctx context.Context, reason string) {
	m.HallucinationRejects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordVADHop records one per-hop detector observation: both confidence
// kinds, the machine state, and the running accumulators. Callers are
// expected to rate-limit; the state machine evaluates every hop but the
// gauges only need the latest value.
func (m *Metrics) RecordVADHop(ctx context.Context, smoothed, raw float64, state int64, speechSec, silenceSec float64) {
	m.VADConfidence.Record(ctx, smoothed,
		metric.WithAttributes(attribute.String("kind", "smoothed")))
	m.VADConfidence.Record(ctx, raw,
		metric.WithAttributes(attribute.String("kind", "raw")))
	m.VADState.Record(ctx, state)
	m.VADAccumulatedSeconds.Record(ctx, speechSec,
		metric.WithAttributes(attribute.String("phase", "speech")))
	m.VADAccumulatedSeconds.Record(ctx, silenceSec,
		metric.WithAttributes(attribute.String("phase", "silence")))
}

// RecordSequenceGap records a detected inbound sequence gap of the given size.
func (m *Metrics) RecordSequenceGap(ctx context.Context, gap int64) {
	m.SequenceGaps.Add(ctx, gap)
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
