// Package auth is the OAuth2 authorization core: grant processing, opaque
// bearer token issuance and validation, refresh-token rotation, and the
// static bearer-token fallback. It also hosts the admin API for mutating
// the OAuth client registry at runtime.
package auth

import "time"

// GrantType enumerates the grants this core accepts.
type GrantType string

const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Client is a registered OAuth client, either loaded from the static config
// document or added at runtime through the admin API.
type Client struct {
	ID         string
	Secret     string
	Name       string
	Scopes     []string
	GrantTypes []GrantType
}

func (c Client) allowsGrant(g GrantType) bool {
	for _, allowed := range c.GrantTypes {
		if allowed == g {
			return true
		}
	}
	return false
}

func (c Client) allowedScopes(requested []string) []string {
	if len(requested) == 0 {
		return c.Scopes
	}
	allowed := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = true
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

// AccessToken is an issued opaque bearer token.
type AccessToken struct {
	Token        string
	ClientID     string
	Scopes       []string
	Subject      string
	ExpiresAt    time.Time
	RefreshToken string // empty if this access token has no paired refresh token
}

// IsExpired reports whether the token's absolute expiry is in the past.
func (t AccessToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// RefreshToken is an issued opaque refresh token, paired 1:1 with the
// access token it was minted alongside. Presenting it rotates both.
type RefreshToken struct {
	Token       string
	ClientID    string
	Scopes      []string
	Subject     string
	AccessToken string
	ExpiresAt   time.Time
}

func (t RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// GrantError is a structured OAuth2 error response (RFC 6749 §5.2).
type GrantError struct {
	Code        string // e.g. invalid_client, invalid_grant, unauthorized_client
	Description string
}

func (e *GrantError) Error() string {
	return e.Code + ": " + e.Description
}
