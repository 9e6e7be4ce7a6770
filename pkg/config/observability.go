package config

import "fmt"

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing,omitempty" mapstructure:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`

	// Endpoint is the path metrics are served on.
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// Namespace prefixes all metric names.
	Namespace string `yaml:"namespace,omitempty" mapstructure:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name,omitempty" mapstructure:"service_name"`

	// SamplingRate is the fraction of traces sampled, 0.0 to 1.0.
	SamplingRate float64 `yaml:"sampling_rate,omitempty" mapstructure:"sampling_rate"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "reelix"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "reelix"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

func (c *ObservabilityConfig) Validate() error {
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.Tracing.SamplingRate)
	}
	return nil
}
