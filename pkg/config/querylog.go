package config

import "fmt"

// QueryLogConfig controls asynchronous query logging to Postgres. Logging is
// strictly best-effort and never blocks or fails a user turn.
type QueryLogConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" mapstructure:"enabled"`
	DSN     string `yaml:"dsn,omitempty" mapstructure:"dsn"`

	// QueueSize bounds the in-flight buffer; full buffer drops entries.
	QueueSize int `yaml:"queue_size,omitempty" mapstructure:"queue_size"`
	Workers   int `yaml:"workers,omitempty" mapstructure:"workers"`
}

func (c *QueryLogConfig) SetDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
}

func (c *QueryLogConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("query log enabled but dsn is empty")
	}
	if c.QueueSize <= 0 || c.Workers <= 0 {
		return fmt.Errorf("query log queue_size and workers must be positive")
	}
	return nil
}
