// Package observe provides application-wide observability primitives for
// readtutor: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all readtutor metrics.
const meterName = "github.com/MrWong99/readtutor"

// Outcome labels for [Metrics.RecordAssessment].
const (
	OutcomePass  = "pass"
	OutcomeFail  = "fail"
	OutcomeError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms per pipeline stage ---

	// TranscodeDuration tracks audio transcoding latency.
	TranscodeDuration metric.Float64Histogram

	// DecodeDuration tracks speech-to-text latency.
	DecodeDuration metric.Float64Histogram

	// PhonemizeDuration tracks grapheme-to-phoneme latency, target and
	// transcript alike.
	PhonemizeDuration metric.Float64Histogram

	// ScoreDuration tracks similarity scoring latency.
	ScoreDuration metric.Float64Histogram

	// AssessDuration tracks end-to-end assessment latency.
	AssessDuration metric.Float64Histogram

	// --- Counters ---

	// Assessments counts finished assessments. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("outcome", ...)
	Assessments metric.Int64Counter

	// StageErrors counts pipeline failures. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("kind", ...)
	StageErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveAssessments tracks the number of assessments in flight.
	ActiveAssessments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// sub-millisecond scoring up to multi-second decoding.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TranscodeDuration, "readtutor.transcode.duration", "Latency of audio transcoding."},
		{&met.DecodeDuration, "readtutor.decode.duration", "Latency of speech-to-text decoding."},
		{&met.PhonemizeDuration, "readtutor.phonemize.duration", "Latency of text-to-phoneme conversion."},
		{&met.ScoreDuration, "readtutor.score.duration", "Latency of similarity scoring."},
		{&met.AssessDuration, "readtutor.assess.duration", "End-to-end pronunciation assessment latency."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.Assessments, err = m.Int64Counter("readtutor.assessments",
		metric.WithDescription("Total assessments by strategy and outcome."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("readtutor.stage.errors",
		metric.WithDescription("Total pipeline failures by stage and error kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("readtutor.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAssessments, err = m.Int64UpDownCounter("readtutor.active_assessments",
		metric.WithDescription("Number of assessments currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("readtutor.http.request.duration",
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

// RecordStage records the latency of one pipeline stage. Unknown stage names
// are ignored.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	var h metric.Float64Histogram
	switch stage {
	case "transcode":
		h = m.TranscodeDuration
	case "decode":
		h = m.DecodeDuration
	case "phonemize":
		h = m.PhonemizeDuration
	case "score":
		h = m.ScoreDuration
	case "assess":
		h = m.AssessDuration
	default:
		return
	}
	h.Record(ctx, d.Seconds())
}

// RecordAssessment records one finished assessment.
func (m *Metrics) RecordAssessment(ctx context.Context, strategy, outcome string) {
	m.Assessments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordStageError records one pipeline failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage, kind string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}

// ObserveDecoderPool registers asynchronous gauges for a bounded decoder
// pool. inUse and size are sampled on every collection.
func (m *Metrics) ObserveDecoderPool(name string, inUse, size func() int) error {
	inUseGauge, err := m.meter.Int64ObservableGauge("readtutor.decoder.pool.in_use",
		metric.WithDescription("Decoder inference slots currently occupied."),
	)
	if err != nil {
		return err
	}
	sizeGauge, err := m.meter.Int64ObservableGauge("readtutor.decoder.pool.size",
		metric.WithDescription("Configured decoder inference slots."),
	)
	if err != nil {
		return err
	}
	attrs := metric.WithAttributes(attribute.String("decoder", name))
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(inUseGauge, int64(inUse()), attrs)
		o.ObserveInt64(sizeGauge, int64(size()), attrs)
		return nil
	}, inUseGauge, sizeGauge)
	return err
}
