package config

import "fmt"

// Supported embedder provider types.
const (
	EmbedderTypeOpenAI = "openai"
)

// EmbedderConfig describes the dense embedding endpoint used for query
// encoding. The dimension must match the vector store collections.
type EmbedderConfig struct {
	Type   string `yaml:"type" mapstructure:"type"`
	Model  string `yaml:"model" mapstructure:"model"`
	Host   string `yaml:"host,omitempty" mapstructure:"host"`
	APIKey string `yaml:"api_key,omitempty" mapstructure:"api_key"`

	Dimension int `yaml:"dimension,omitempty" mapstructure:"dimension"`
	Timeout   int `yaml:"timeout,omitempty" mapstructure:"timeout"`

	MaxRetries   int `yaml:"max_retries,omitempty" mapstructure:"max_retries"`
	RetryDelayMS int `yaml:"retry_delay_ms,omitempty" mapstructure:"retry_delay_ms"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = EmbedderTypeOpenAI
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 15
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelayMS == 0 {
		c.RetryDelayMS = 500
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case EmbedderTypeOpenAI:
	default:
		return fmt.Errorf("unsupported embedder type: %s", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("embedder model is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive")
	}
	return nil
}
