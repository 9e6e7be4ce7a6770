package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the measurements the discovery flow emits.
type Metrics interface {
	RecordTurn(ctx context.Context, kind string, duration time.Duration, err error)
	RecordRetrieval(ctx context.Context, collection, arm string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
}

// PrometheusMetrics implements Metrics over OpenTelemetry instruments backed
// by the Prometheus exporter. The zero value is a safe no-op.
type PrometheusMetrics struct {
	turnDuration    metric.Float64Histogram
	turnsTotal      metric.Int64Counter
	turnErrorsTotal metric.Int64Counter

	retrievalDuration    metric.Float64Histogram
	retrievalErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	httpDuration      metric.Float64Histogram
	httpRequestsTotal metric.Int64Counter
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, kind string, duration time.Duration, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
	}

	m.turnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.turnErrorsTotal != nil {
		m.turnErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, collection, arm string, duration time.Duration, err error) {
	if m == nil || m.retrievalDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
		attribute.String("arm", arm),
	}

	m.retrievalDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if err != nil && m.retrievalErrorsTotal != nil {
		m.retrievalErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpDuration == nil || m.httpRequestsTotal == nil {
		return
	}

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	}

	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// Package-level recorders forward to the global metrics when set, so call
// sites don't repeat the nil check.

func RecordTurn(ctx context.Context, kind string, duration time.Duration, err error) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordTurn(ctx, kind, duration, err)
	}
}

func RecordRetrieval(ctx context.Context, collection, arm string, duration time.Duration, err error) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordRetrieval(ctx, collection, arm, duration, err)
	}
}

func RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordLLMCall(ctx, model, duration, inputTokens, outputTokens, err)
	}
}
