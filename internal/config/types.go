// Package config loads and validates the gatewayd configuration document.
package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so the config document can use Go duration
// strings ("10s", "24h") rather than raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration document, loaded from a YAML file.
type Config struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"logLevel"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Backends  []BackendConfig `yaml:"backends"`
}

// RateLimitConfig bounds the per-identity request rate enforced by the HTTP edge.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig configures the static bearer-token fallback and the OAuth2 core.
type AuthConfig struct {
	StaticTokens    []string       `yaml:"staticTokens"`
	Issuer          string         `yaml:"issuer"`
	AccessTokenTTL  Duration       `yaml:"accessTokenTTL"`
	RefreshTokenTTL Duration       `yaml:"refreshTokenTTL"`
	Clients         []ClientConfig `yaml:"clients"`
}

// ClientConfig is a statically registered OAuth client. Additional clients
// may be registered at runtime via the admin API; see internal/auth.
type ClientConfig struct {
	ID         string   `yaml:"id"`
	Secret     string   `yaml:"secret"`
	Name       string   `yaml:"name"`
	Scopes     []string `yaml:"scopes"`
	GrantTypes []string `yaml:"grantTypes"`
}

// BackendConfig describes one stdio MCP backend process.
type BackendConfig struct {
	ID             string            `yaml:"id"`
	Transport      string            `yaml:"transport"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Enabled        bool              `yaml:"enabled"`
	ConnectTimeout Duration          `yaml:"connectTimeout"`
	MaxRestarts    int               `yaml:"maxRestarts"`
	CallTimeout    Duration          `yaml:"callTimeout"`
}
