package config

import "fmt"

// Validate checks the loaded document against the constraints gatewayd
// requires at startup. It returns a *ValidationErrors collecting every
// violation found, or nil if the document is sound.
func Validate(c *Config) error {
	errs := &ValidationErrors{}

	if c.Port <= 0 || c.Port > 65535 {
		errs.add("port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs.add("logLevel", fmt.Sprintf("must be one of debug|info|warn|error, got %q", c.LogLevel))
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		errs.add("rateLimit.requestsPerSecond", "must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		errs.add("rateLimit.burst", "must be positive")
	}

	seenClients := make(map[string]bool)
	for i, client := range c.Auth.Clients {
		field := fmt.Sprintf("auth.clients[%d]", i)
		if client.ID == "" {
			errs.add(field+".id", "must not be empty")
			continue
		}
		if seenClients[client.ID] {
			errs.add(field+".id", fmt.Sprintf("duplicate client id %q", client.ID))
		}
		seenClients[client.ID] = true
		if client.Secret == "" {
			errs.add(field+".secret", "must not be empty")
		}
		for _, gt := range client.GrantTypes {
			switch gt {
			case "client_credentials", "password", "refresh_token":
			default:
				errs.add(field+".grantTypes", fmt.Sprintf("unsupported grant type %q", gt))
			}
		}
	}

	seenBackends := make(map[string]bool)
	for i, b := range c.Backends {
		field := fmt.Sprintf("backends[%d]", i)
		if b.ID == "" {
			errs.add(field+".id", "must not be empty")
			continue
		}
		if seenBackends[b.ID] {
			errs.add(field+".id", fmt.Sprintf("duplicate backend id %q", b.ID))
		}
		seenBackends[b.ID] = true
		if b.Transport != "stdio" {
			errs.add(field+".transport", fmt.Sprintf("only \"stdio\" is supported, got %q", b.Transport))
		}
		if b.Command == "" {
			errs.add(field+".command", "must not be empty")
		}
		if b.MaxRestarts < 0 {
			errs.add(field+".maxRestarts", "must not be negative")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
