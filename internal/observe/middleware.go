package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseProxy captures the status code written by the downstream handler.
// It exposes the wrapped writer through Unwrap so http.ResponseController
// still reaches the hijacker underneath; the websocket attach route depends
// on that.
type responseProxy struct {
	http.ResponseWriter
	status int
}

func (p *responseProxy) WriteHeader(code int) {
	p.status = code
	p.ResponseWriter.WriteHeader(code)
}

func (p *responseProxy) Unwrap() http.ResponseWriter { return p.ResponseWriter }

// Middleware wraps an HTTP handler with the request-level telemetry for the
// gateway: it continues any W3C trace context carried by the request (or
// starts a fresh trace), answers with an X-Correlation-ID header derived
// from the trace ID, records the request duration, and logs completion.
//
// Metric and span attributes use the matched route pattern rather than the
// raw URL path, so per-session paths like /v1/sessions/{id}/ws collapse into
// one series instead of one per session ID.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			proxy := &responseProxy{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(proxy, r)

			// r.Pattern is filled in by ServeMux during routing, so it is
			// read after the handler ran. Unrouted requests (404s) fall
			// back to the raw path.
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
				),
			)
			span.SetAttributes(
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCode(proxy.status),
			)

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", proxy.status),
				slog.Duration("duration", duration),
			)
		})
	}
}
