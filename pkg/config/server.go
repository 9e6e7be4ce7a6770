package config

import "fmt"

// ServerConfig controls the HTTP/SSE listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" mapstructure:"host"`
	Port int    `yaml:"port,omitempty" mapstructure:"port"`

	// CORSOrigins lists allowed origins; ["*"] allows any.
	CORSOrigins []string `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`

	// ReadTimeout bounds request reading, seconds. WriteTimeout is
	// intentionally not configurable: SSE connections stay open far longer
	// than any sane write timeout, so the server runs with none.
	ReadTimeout int `yaml:"read_timeout,omitempty" mapstructure:"read_timeout"`
	IdleTimeout int `yaml:"idle_timeout,omitempty" mapstructure:"idle_timeout"`

	// ShutdownGrace bounds graceful shutdown, seconds.
	ShutdownGrace int `yaml:"shutdown_grace,omitempty" mapstructure:"shutdown_grace"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 15
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownGrace < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Address returns host:port for net.Listen.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
