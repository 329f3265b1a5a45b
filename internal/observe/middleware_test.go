package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddlewareFixture wires metrics and a test tracer for middleware tests.
func newMiddlewareFixture(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, installTestTracer(t)
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)

	var inHandler string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/sessions", nil))

	if len(inHandler) != 32 {
		t.Errorf("handler correlation ID = %q, want 32-char trace ID", inHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inHandler string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/v1/sessions/abc/notes", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inHandler != traceID {
		t.Errorf("correlation ID = %q, want propagated %q", inHandler, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpanStatusAndRoute(t *testing.T) {
	m, _, exp := newMiddlewareFixture(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions/{id}/notes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/sessions/s-99/notes", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	var sawStatus, sawRoute bool
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "http.response.status_code":
			sawStatus = a.Value.AsInt64() == http.StatusNotFound
		case "http.route":
			sawRoute = a.Value.AsString() == "GET /v1/sessions/{id}/notes"
		}
	}
	if !sawStatus {
		t.Error("span missing 404 status code attribute")
	}
	if !sawRoute {
		t.Error("span missing matched route pattern attribute")
	}
}

func TestMiddleware_DurationLabeledByRoutePattern(t *testing.T) {
	m, reader, _ := newMiddlewareFixture(t)

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {})
	h := Middleware(m)(mux)

	// Two different session IDs must land in one metric series.
	for _, id := range []string{"s-1", "s-2"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/sessions/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxnote.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("series = %d, want 1 (per-ID paths must collapse)", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	var sawPattern bool
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == "path" && kv.Value.AsString() == "DELETE /v1/sessions/{id}" {
			sawPattern = true
		}
	}
	if !sawPattern {
		t.Error("duration metric not labeled with the route pattern")
	}
}

func TestMiddleware_WriterUnwrapsForHijack(t *testing.T) {
	m, _, _ := newMiddlewareFixture(t)

	var unwrapped http.ResponseWriter
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			t.Fatal("wrapped writer does not expose Unwrap")
		}
		unwrapped = u.Unwrap()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/sessions/s-1/ws", nil))
	if unwrapped != rec {
		t.Error("Unwrap did not return the underlying writer")
	}
}
