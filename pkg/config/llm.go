package config

import "fmt"

// Supported LLM provider types.
const (
	LLMTypeOpenAI = "openai"
)

// LLMConfig describes one chat-completions endpoint. The same shape serves
// every role (orchestrator, curator, why, reflection); roles differ only in
// model choice and timeout.
type LLMConfig struct {
	Type   string `yaml:"type" mapstructure:"type"`
	Model  string `yaml:"model" mapstructure:"model"`
	Host   string `yaml:"host,omitempty" mapstructure:"host"`
	APIKey string `yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout is the per-request budget in seconds, covering the full
	// stream for streaming calls.
	Timeout int `yaml:"timeout,omitempty" mapstructure:"timeout"`

	// MaxRetries counts additional attempts after the first. Retries apply
	// to transport-level failures only, never to a stream that already
	// delivered data.
	MaxRetries   int `yaml:"max_retries,omitempty" mapstructure:"max_retries"`
	RetryDelayMS int `yaml:"retry_delay_ms,omitempty" mapstructure:"retry_delay_ms"`

	Temperature *float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = LLMTypeOpenAI
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelayMS == 0 {
		c.RetryDelayMS = 500
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Type {
	case LLMTypeOpenAI:
	default:
		return fmt.Errorf("unsupported llm type: %s", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("llm timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("llm max_retries must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("llm temperature must be between 0 and 2")
	}
	return nil
}
