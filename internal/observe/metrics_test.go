package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func hasAttr(set attribute.Set, key, value string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	stages := map[string]string{
		"transcode": "readtutor.transcode.duration",
		"decode":    "readtutor.decode.duration",
		"phonemize": "readtutor.phonemize.duration",
		"score":     "readtutor.score.duration",
		"assess":    "readtutor.assess.duration",
	}
	for stage := range stages {
		m.RecordStage(ctx, stage, 120*time.Millisecond)
		m.RecordStage(ctx, stage, 450*time.Millisecond)
	}
	m.RecordStage(ctx, "no-such-stage", time.Second)

	rm := collect(t, reader)
	for stage, name := range stages {
		t.Run(stage, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("unexpected data %T", met.Data)
			}
			dp := hist.DataPoints[0]
			if dp.Count != 2 {
				t.Errorf("count = %d, want 2", dp.Count)
			}
			if dp.Sum < 0.569 || dp.Sum > 0.571 {
				t.Errorf("sum = %v, want 0.57", dp.Sum)
			}
		})
	}
}

func TestRecordAssessment(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAssessment(ctx, "exact", OutcomePass)
	m.RecordAssessment(ctx, "exact", OutcomePass)
	m.RecordAssessment(ctx, "edit_distance", OutcomeFail)
	m.RecordAssessment(ctx, "edit_distance", OutcomeError)

	met := findMetric(collect(t, reader), "readtutor.assessments")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want Sum[int64]", met.Data)
	}
	if len(sum.DataPoints) != 3 {
		t.Fatalf("got %d series, want 3", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, "strategy", "exact") && hasAttr(dp.Attributes, "outcome", OutcomePass) && dp.Value != 2 {
			t.Errorf("exact/pass = %d, want 2", dp.Value)
		}
	}
}

func TestRecordStageError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStageError(context.Background(), "decode", "timeout")

	met := findMetric(collect(t, reader), "readtutor.stage.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	dp := met.Data.(metricdata.Sum[int64]).DataPoints[0]
	if dp.Value != 1 || !hasAttr(dp.Attributes, "stage", "decode") || !hasAttr(dp.Attributes, "kind", "timeout") {
		t.Errorf("data point = %d %v", dp.Value, dp.Attributes.ToSlice())
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordBreakerTransition(context.Background(), "whisper", "open")

	met := findMetric(collect(t, reader), "readtutor.breaker.transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	dp := met.Data.(metricdata.Sum[int64]).DataPoints[0]
	if !hasAttr(dp.Attributes, "to", "open") {
		t.Errorf("attributes = %v", dp.Attributes.ToSlice())
	}
}

func TestObserveDecoderPool(t *testing.T) {
	m, reader := newTestMetrics(t)

	inUse := 0
	if err := m.ObserveDecoderPool("whisper-native", func() int { return inUse }, func() int { return 4 }); err != nil {
		t.Fatalf("ObserveDecoderPool: %v", err)
	}

	inUse = 3
	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"readtutor.decoder.pool.in_use": 3,
		"readtutor.decoder.pool.size":   4,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		g, ok := met.Data.(metricdata.Gauge[int64])
		if !ok || len(g.DataPoints) != 1 {
			t.Fatalf("%s: unexpected data %T", name, met.Data)
		}
		if g.DataPoints[0].Value != want {
			t.Errorf("%s = %d, want %d", name, g.DataPoints[0].Value, want)
		}
		if !hasAttr(g.DataPoints[0].Attributes, "decoder", "whisper-native") {
			t.Errorf("%s: missing decoder attribute", name)
		}
	}
}

func TestActiveAssessments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActiveAssessments.Add(ctx, 3)
	m.ActiveAssessments.Add(ctx, -1)

	met := findMetric(collect(t, reader), "readtutor.active_assessments")
	if met == nil {
		t.Fatal("metric not found")
	}
	if v := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; v != 2 {
		t.Errorf("value = %d, want 2", v)
	}
}

func TestInitProvider_ServesPrometheus(t *testing.T) {
	origMP := otel.GetMeterProvider()
	origTP := otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registry: reg, ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordAssessment(context.Background(), "sequence_similarity", OutcomePass)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "readtutor_assessments") {
		t.Errorf("scrape does not contain readtutor_assessments:\n%s", body)
	}
}
