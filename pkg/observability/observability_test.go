package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reelix-ai/reelix/pkg/config"
)

func disabledConfig() config.ObservabilityConfig {
	cfg := config.ObservabilityConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestZeroValueMetricsAreSafe(t *testing.T) {
	ctx := context.Background()
	metrics := &PrometheusMetrics{}

	metrics.RecordTurn(ctx, "recs", 100*time.Millisecond, nil)
	metrics.RecordRetrieval(ctx, "movies", "dense", 20*time.Millisecond, nil)
	metrics.RecordLLMCall(ctx, "gpt-4o-mini", 500*time.Millisecond, 100, 50, nil)
	metrics.RecordHTTPRequest("POST", "/discovery/explore", 200, 30*time.Millisecond)
}

func TestGlobalMetrics(t *testing.T) {
	ctx := context.Background()

	prev := GetGlobalMetrics()
	defer SetGlobalMetrics(prev)

	SetGlobalMetrics(&PrometheusMetrics{})
	if GetGlobalMetrics() == nil {
		t.Error("GetGlobalMetrics() = nil after SetGlobalMetrics")
	}

	// Package-level recorders must be safe with and without a global.
	RecordLLMCall(ctx, "gpt-4o-mini", time.Millisecond, 1, 1, nil)
	SetGlobalMetrics(nil)
	RecordTurn(ctx, "chat", time.Millisecond, nil)
	RecordRetrieval(ctx, "tv", "sparse", time.Millisecond, nil)
}

type recordingMetrics struct {
	PrometheusMetrics
	method string
	path   string
	status int
}

func (m *recordingMetrics) RecordHTTPRequest(method, path string, statusCode int, _ time.Duration) {
	m.method = method
	m.path = path
	m.status = statusCode
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	metrics := &recordingMetrics{}
	handler := HTTPMiddleware(nil, metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/discovery/explore/why", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if metrics.method != "GET" || metrics.path != "/discovery/explore/why" || metrics.status != 404 {
		t.Errorf("recorded %s %s %d, want GET /discovery/explore/why 404",
			metrics.method, metrics.path, metrics.status)
	}
}

func TestResponseWriterForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := w.Write([]byte("data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	w.Flush()

	if !rec.Flushed {
		t.Error("Flush() did not reach the underlying writer")
	}
	if w.bytesWritten != 4 {
		t.Errorf("bytesWritten = %d, want 4", w.bytesWritten)
	}
}

func TestInitDisabledObservability(t *testing.T) {
	mgr := NewManager(disabledConfig())
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer mgr.Shutdown(context.Background())

	if mgr.MetricsEnabled() {
		t.Error("MetricsEnabled() = true for disabled config")
	}
	if tracer := mgr.GetTracer("test"); tracer == nil {
		t.Error("GetTracer() = nil, want noop tracer")
	}

	_, span := mgr.GetTracer("test").Start(context.Background(), "test_span")
	span.End()
}
