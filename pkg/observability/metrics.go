package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/reelix-ai/reelix/pkg/config"
)

// InitMetrics builds the Prometheus-backed instrument set. Disabled metrics
// yield an empty recorder whose methods are no-ops.
func InitMetrics(ctx context.Context, cfg config.MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter(cfg.Namespace)
	ns := cfg.Namespace

	m := &PrometheusMetrics{}

	m.turnDuration, err = meter.Float64Histogram(
		ns+"_turn_duration_seconds",
		metric.WithDescription("Discovery turn duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	m.turnsTotal, err = meter.Int64Counter(
		ns+"_turns_total",
		metric.WithDescription("Total discovery turns"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	m.turnErrorsTotal, err = meter.Int64Counter(
		ns+"_turn_errors_total",
		metric.WithDescription("Total failed discovery turns"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	m.retrievalDuration, err = meter.Float64Histogram(
		ns+"_retrieval_duration_seconds",
		metric.WithDescription("Vector store search duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval duration histogram: %w", err)
	}

	m.retrievalErrorsTotal, err = meter.Int64Counter(
		ns+"_retrieval_errors_total",
		metric.WithDescription("Total failed vector store searches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval errors counter: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		ns+"_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmInputTokens, err = meter.Int64Counter(
		ns+"_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	m.llmOutputTokens, err = meter.Int64Counter(
		ns+"_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	m.llmErrorsTotal, err = meter.Int64Counter(
		ns+"_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		ns+"_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.httpRequestsTotal, err = meter.Int64Counter(
		ns+"_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}
