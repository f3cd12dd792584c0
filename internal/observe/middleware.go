package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseRecorder remembers the status the wrapped handler wrote.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the original writer to [http.ResponseController]; the
// /preview websocket upgrade hijacks through it.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware wraps the phonemix HTTP mux. Each request runs in a server span
// continuing any incoming traceparent, answers with X-Correlation-ID set to
// its trace ID, and is timed into [Metrics.HTTPRequestDuration] and logged.
//
// Health probes and metric scrapes log at debug level.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
			))
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
			logRequest(ctx, r, rec.status, elapsed)
		})
	}
}

func logRequest(ctx context.Context, r *http.Request, status int, elapsed time.Duration) {
	level := slog.LevelInfo
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/healthz", "/readyz", "/metrics":
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "request completed",
		slog.String("trace_id", CorrelationID(ctx)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}
