package config

import "fmt"

// MemoryConfig describes the Redis-backed session, ticket and taste stores.
type MemoryConfig struct {
	Redis RedisConfig `yaml:"redis,omitempty" mapstructure:"redis"`

	// Session TTLs, hours. Sliding refreshes on every read and write;
	// absolute is enforced from the stored creation timestamp.
	SessionSlidingTTL  int `yaml:"session_sliding_ttl,omitempty" mapstructure:"session_sliding_ttl"`
	SessionAbsoluteTTL int `yaml:"session_absolute_ttl,omitempty" mapstructure:"session_absolute_ttl"`

	// Ticket TTLs, minutes.
	TicketSlidingTTL  int `yaml:"ticket_sliding_ttl,omitempty" mapstructure:"ticket_sliding_ttl"`
	TicketAbsoluteTTL int `yaml:"ticket_absolute_ttl,omitempty" mapstructure:"ticket_absolute_ttl"`
}

// RedisConfig is a single-node Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" mapstructure:"addr"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	PoolSize int    `yaml:"pool_size,omitempty" mapstructure:"pool_size"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.SessionSlidingTTL == 0 {
		c.SessionSlidingTTL = 24
	}
	if c.SessionAbsoluteTTL == 0 {
		c.SessionAbsoluteTTL = 168
	}
	if c.TicketSlidingTTL == 0 {
		c.TicketSlidingTTL = 15
	}
	if c.TicketAbsoluteTTL == 0 {
		c.TicketAbsoluteTTL = 60
	}
}

func (c *MemoryConfig) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.SessionSlidingTTL <= 0 || c.SessionAbsoluteTTL <= 0 {
		return fmt.Errorf("session TTLs must be positive")
	}
	if c.SessionAbsoluteTTL < c.SessionSlidingTTL {
		return fmt.Errorf("session absolute TTL must not be shorter than sliding TTL")
	}
	if c.TicketSlidingTTL <= 0 || c.TicketAbsoluteTTL <= 0 {
		return fmt.Errorf("ticket TTLs must be positive")
	}
	if c.TicketAbsoluteTTL < c.TicketSlidingTTL {
		return fmt.Errorf("ticket absolute TTL must not be shorter than sliding TTL")
	}
	return nil
}
