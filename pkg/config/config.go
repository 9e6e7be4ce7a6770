// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the Reelix configuration model and its loading
// pipeline: parse YAML, expand environment variables, decode, apply
// defaults, validate.
package config

import "fmt"

// Config is the root configuration for a Reelix process.
type Config struct {
	Version string `yaml:"version,omitempty" mapstructure:"version"`
	Name    string `yaml:"name,omitempty" mapstructure:"name"`

	Global GlobalSettings `yaml:"global,omitempty" mapstructure:"global"`

	// LLMs maps a role name (orchestrator, curator, why, reflection) to a
	// provider configuration. A role missing from the map falls back to
	// "default" when present.
	LLMs map[string]*LLMConfig `yaml:"llms,omitempty" mapstructure:"llms"`

	Embedder  *EmbedderConfig `yaml:"embedder,omitempty" mapstructure:"embedder"`
	Search    SearchConfig    `yaml:"search,omitempty" mapstructure:"search"`
	Memory    MemoryConfig    `yaml:"memory,omitempty" mapstructure:"memory"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty" mapstructure:"discovery"`
	QueryLog  QueryLogConfig  `yaml:"querylog,omitempty" mapstructure:"querylog"`
}

// GlobalSettings groups process-wide concerns.
type GlobalSettings struct {
	Logging       LoggingConfig       `yaml:"logging,omitempty" mapstructure:"logging"`
	Server        ServerConfig        `yaml:"server,omitempty" mapstructure:"server"`
	Auth          AuthConfig          `yaml:"auth,omitempty" mapstructure:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" mapstructure:"observability"`
}

func (c *GlobalSettings) SetDefaults() {
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.Auth.SetDefaults()
	c.RateLimit.SetDefaults()
	c.Observability.SetDefaults()
}

func (c *GlobalSettings) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config validation failed: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit config validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config validation failed: %w", err)
	}
	return nil
}

// SetDefaults fills unset fields across the whole tree.
func (c *Config) SetDefaults() {
	c.Global.SetDefaults()

	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if len(c.LLMs) == 0 {
		c.LLMs["default"] = &LLMConfig{}
	}
	for name := range c.LLMs {
		if c.LLMs[name] != nil {
			c.LLMs[name].SetDefaults()
		}
	}

	if c.Embedder == nil {
		c.Embedder = &EmbedderConfig{}
	}
	c.Embedder.SetDefaults()

	c.Search.SetDefaults()
	c.Memory.SetDefaults()
	c.Discovery.SetDefaults()
	c.QueryLog.SetDefaults()
}

// Validate checks the whole tree and cross-references.
func (c *Config) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return err
	}

	for name, llm := range c.LLMs {
		if llm == nil {
			continue
		}
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q validation failed: %w", name, err)
		}
	}

	if c.Embedder != nil {
		if err := c.Embedder.Validate(); err != nil {
			return fmt.Errorf("embedder validation failed: %w", err)
		}
	}

	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search config validation failed: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config validation failed: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config validation failed: %w", err)
	}
	if err := c.QueryLog.Validate(); err != nil {
		return fmt.Errorf("querylog config validation failed: %w", err)
	}

	return c.validateReferences()
}

// validateReferences checks that every LLM role the discovery layer names
// resolves to a configured provider.
func (c *Config) validateReferences() error {
	for _, role := range []string{c.Discovery.OrchestratorLLM, c.Discovery.CuratorLLM, c.Discovery.WhyLLM, c.Discovery.ReflectionLLM} {
		if role == "" {
			continue
		}
		if _, ok := c.LLMs[role]; !ok {
			if _, hasDefault := c.LLMs["default"]; !hasDefault {
				return fmt.Errorf("llm role %q not found (available: %v)", role, mapKeys(c.LLMs))
			}
		}
	}
	return nil
}

// LLMFor resolves a role name to its provider config, falling back to the
// "default" entry.
func (c *Config) LLMFor(role string) (*LLMConfig, bool) {
	if cfg, ok := c.LLMs[role]; ok && cfg != nil {
		return cfg, true
	}
	cfg, ok := c.LLMs["default"]
	return cfg, ok && cfg != nil
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
