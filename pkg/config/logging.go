package config

import "fmt"

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" mapstructure:"level"`
	// Format is "simple" (level + message) or "verbose" (adds timestamps).
	Format string `yaml:"format,omitempty" mapstructure:"format"`
	// File redirects logs to a file instead of stderr when set.
	File string `yaml:"file,omitempty" mapstructure:"file"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	switch c.Format {
	case "simple", "verbose":
	default:
		return fmt.Errorf("invalid log format %q (want simple or verbose)", c.Format)
	}
	return nil
}
