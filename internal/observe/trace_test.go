package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test. Tests using it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestTraceID(t *testing.T) {
	useTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "assess.decode")
		id := TraceID(ctx)
		span.End()
		if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("TraceID = %q, want 32 lowercase hex digits", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace ID %s", id)
		}
		seen[id] = true
	}
}

func TestStartSpan_ChildSharesTrace(t *testing.T) {
	exp := useTracer(t)

	ctx, parent := StartSpan(context.Background(), "assess")
	child, span := StartSpan(ctx, "assess.phonemize")
	if TraceID(child) != TraceID(ctx) {
		t.Error("child span started a new trace")
	}
	span.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != "assess.phonemize" || spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Errorf("child span %q not parented to %q", spans[0].Name, spans[1].Name)
	}
}

func TestEndSpan(t *testing.T) {
	exp := useTracer(t)

	_, ok := StartSpan(context.Background(), "assess.score")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "assess.phonemize")
	EndSpan(failed, errors.New("espeak-ng exited 1"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("ok span status = %v, want unset", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "espeak-ng exited 1" {
		t.Errorf("failed span status = %v %q", spans[1].Status.Code, spans[1].Status.Description)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span has no exception event")
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span carries trace_id: %s", buf)
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "assess")
	defer span.End()
	Logger(ctx).Info("utterance decoded")
	for _, want := range []string{"trace_id=" + TraceID(ctx), "span_id="} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log %q missing %q", buf, want)
		}
	}
}
