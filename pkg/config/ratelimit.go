package config

import "fmt"

// Rate limit windows. Fixed windows, counted per user.
const (
	RateWindowMinute = "minute"
	RateWindowHour   = "hour"
	RateWindowDay    = "day"
)

// RateLimitConfig bounds how many discovery requests one user may issue.
// Counters live in the shared KV store, so the limits hold across replicas
// when Redis backs it.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`

	// Quotas apply together; the tightest exhausted window rejects the
	// request.
	Quotas []QuotaConfig `yaml:"quotas,omitempty" mapstructure:"quotas"`
}

// QuotaConfig is one fixed-window request allowance.
type QuotaConfig struct {
	Window string `yaml:"window" mapstructure:"window"`
	Limit  int64  `yaml:"limit" mapstructure:"limit"`
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled && len(c.Quotas) == 0 {
		c.Quotas = []QuotaConfig{
			{Window: RateWindowMinute, Limit: 30},
			{Window: RateWindowDay, Limit: 1000},
		}
	}
}

func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	for _, q := range c.Quotas {
		switch q.Window {
		case RateWindowMinute, RateWindowHour, RateWindowDay:
		default:
			return fmt.Errorf("unknown rate limit window %q (want minute, hour or day)", q.Window)
		}
		if q.Limit <= 0 {
			return fmt.Errorf("rate limit for window %q must be positive", q.Window)
		}
	}
	return nil
}
