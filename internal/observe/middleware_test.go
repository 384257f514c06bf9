package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareFixture routes GET /discover/status and GET /boom through the
// middleware, recording metrics and spans in memory.
type middlewareFixture struct {
	router http.Handler
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/discover/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	return &middlewareFixture{router: r, reader: reader, spans: exp}
}

func (f *middlewareFixture) get(target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *middlewareFixture) onlySpan(t *testing.T) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := f.spans.GetSpans().Snapshots()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	return spans[0]
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_CorrelationIDHeader(t *testing.T) {
	f := newMiddlewareFixture(t)

	rec := f.get("/discover/status", nil)
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32 char trace id", cid)
	}
	if seen := rec.Header().Get("X-Seen-Correlation"); seen != cid {
		t.Errorf("handler saw correlation id %q, header carries %q", seen, cid)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	f := newMiddlewareFixture(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := f.get("/discover/status", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := f.onlySpan(t).Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span id = %q", got)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	f := newMiddlewareFixture(t)

	f.get("/discover/status?session_id=alice", nil)
	span := f.onlySpan(t)

	if span.Name() != "HTTP GET /discover/status" {
		t.Errorf("span name = %q", span.Name())
	}
	if v, ok := spanAttr(span, "cluekeeper.session_id"); !ok || v.AsString() != "alice" {
		t.Errorf("session attribute = %v, %v", v.AsString(), ok)
	}
	if v, ok := spanAttr(span, "http.response.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("status attribute = %v", v.AsInt64())
	}
	if v, ok := spanAttr(span, "http.response.body.size"); !ok || v.AsInt64() != int64(len(`{"ok":true}`)) {
		t.Errorf("body size attribute = %v", v.AsInt64())
	}
	if span.Status().Code == codes.Error {
		t.Error("a 200 must not mark the span failed")
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	f := newMiddlewareFixture(t)

	rec := f.get("/boom", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := f.onlySpan(t).Status().Code; got != codes.Error {
		t.Errorf("span status = %v, want Error", got)
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	f := newMiddlewareFixture(t)

	f.get("/discover/status?session_id=a", nil)
	f.get("/discover/status?session_id=b", nil)
	f.get("/boom", nil)

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "cluekeeper.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		class, _ := dp.Attributes.Value("status_class")
		counts[path.AsString()+" "+class.AsString()] += dp.Count
	}
	want := map[string]uint64{"/discover/status 2xx": 2, "/boom 5xx": 1}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count[%s] = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("unexpected label sets: %v", counts)
	}
}

func TestMiddleware_WithoutRouterUsesPath(t *testing.T) {
	f := newMiddlewareFixture(t)
	m, err := NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/discover", nil))

	if name := f.onlySpan(t).Name(); name != "HTTP DELETE /discover" {
		t.Errorf("span name = %q", name)
	}
}
