package config

import "fmt"

// AuthConfig controls request authentication.
//
// Two validator modes are supported. When JWKSURL is set, bearer tokens are
// verified as JWTs against the remote key set. Otherwise StaticTokens maps
// opaque bearer tokens to user IDs, which is the local development mode.
type AuthConfig struct {
	Enabled bool `yaml:"enabled,omitempty" mapstructure:"enabled"`

	JWKSURL  string `yaml:"jwks_url,omitempty" mapstructure:"jwks_url"`
	Issuer   string `yaml:"issuer,omitempty" mapstructure:"issuer"`
	Audience string `yaml:"audience,omitempty" mapstructure:"audience"`

	// StaticTokens maps bearer token -> user id. Development only.
	StaticTokens map[string]string `yaml:"static_tokens,omitempty" mapstructure:"static_tokens"`
}

func (c *AuthConfig) SetDefaults() {}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" && len(c.StaticTokens) == 0 {
		return fmt.Errorf("auth enabled but neither jwks_url nor static_tokens configured")
	}
	if c.JWKSURL != "" && c.Issuer == "" {
		return fmt.Errorf("jwks_url requires issuer")
	}
	return nil
}
