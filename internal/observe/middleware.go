package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries the trace ID of a listener request back to the caller.
const TraceHeader = "X-Trace-ID"

// routeOther labels every path the listener does not serve, so scanners
// hitting random URLs cannot blow up metric cardinality.
const routeOther = "other"

// routes served by the metrics listener.
var routes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

func routeOf(path string) string {
	if routes[path] {
		return path
	}
	return routeOther
}

// statusWriter remembers the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the metrics listener. Each request joins the
// caller's W3C trace (or starts one), gets a server span named after its
// route, and has its latency recorded to [Metrics.HTTPRequestDuration] by
// route and status code. The trace ID is echoed in [TraceHeader].
//
// Scrapes and passing probes log at debug level. A failing probe logs a
// warning since it usually means espeak-ng, ffmpeg or the decoder went away.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeOf(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "listener "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			tid := TraceID(ctx)
			if tid != "" {
				w.Header().Set(TraceHeader, tid)
			}

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.code))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					Attr("route", route),
					Attr("code", strconv.Itoa(sw.code)),
				),
			)

			level := slog.LevelDebug
			switch {
			case sw.code >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case route == routeOther:
				level = slog.LevelInfo
			}
			slog.LogAttrs(ctx, level, "listener request",
				slog.String("trace_id", tid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.code),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
