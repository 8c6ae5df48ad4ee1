package auth

import (
	"time"

	"gatewayd/pkg/logging"
)

// Core processes OAuth2 grants and validates bearer tokens. It is the
// single object the HTTP handlers and the authentication middleware talk
// to.
type Core struct {
	clients      *ClientRegistry
	tokens       *TokenStore
	verifier     UserVerifier
	staticTokens map[string]bool

	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewCore constructs the authorization core.
func NewCore(clients *ClientRegistry, tokens *TokenStore, verifier UserVerifier, staticTokens []string, accessTTL, refreshTTL time.Duration) *Core {
	set := make(map[string]bool, len(staticTokens))
	for _, t := range staticTokens {
		set[t] = true
	}
	if verifier == nil {
		verifier = AllowAllVerifier{}
	}
	return &Core{
		clients:         clients,
		tokens:          tokens,
		verifier:        verifier,
		staticTokens:    set,
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
	}
}

// GrantRequest is the parsed body of a POST /oauth/token request, pooling
// fields across all three supported grants.
type GrantRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	RefreshToken string
	Scope        string // space-delimited, per RFC 6749
}

// GrantResponse is the JSON body returned on a successful token grant.
type GrantResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token processes a token request and returns the grant response or a
// structured GrantError.
func (c *Core) Token(req GrantRequest) (*GrantResponse, error) {
	switch req.GrantType {
	case GrantClientCredentials:
		return c.clientCredentials(req)
	case GrantPassword:
		return c.password(req)
	case GrantRefreshToken:
		return c.refresh(req)
	default:
		return nil, &GrantError{Code: "unsupported_grant_type", Description: string(req.GrantType)}
	}
}

func (c *Core) clientCredentials(req GrantRequest) (*GrantResponse, error) {
	client, err := c.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		c.auditFailure("client_credentials", req.ClientID, err)
		return nil, err
	}
	if !client.allowsGrant(GrantClientCredentials) {
		err := &GrantError{Code: "unauthorized_client", Description: "client not allowed to use client_credentials"}
		c.auditFailure("client_credentials", req.ClientID, err)
		return nil, err
	}

	scopes := client.allowedScopes(splitScope(req.Scope))
	at, _, err := c.tokens.IssueAccessToken(client.ID, client.ID, scopes, c.accessTokenTTL, false, 0)
	if err != nil {
		return nil, err
	}
	return grantResponse(at, "", scopes), nil
}

func (c *Core) password(req GrantRequest) (*GrantResponse, error) {
	client, err := c.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		c.auditFailure("password", req.ClientID, err)
		return nil, err
	}
	if !client.allowsGrant(GrantPassword) {
		err := &GrantError{Code: "unauthorized_client", Description: "client not allowed to use password"}
		c.auditFailure("password", req.ClientID, err)
		return nil, err
	}

	subject, ok := c.verifier.Verify(req.Username, req.Password)
	if !ok {
		err := &GrantError{Code: "invalid_grant", Description: "bad resource owner credentials"}
		c.auditFailure("password", req.ClientID, err)
		return nil, err
	}

	scopes := client.allowedScopes(splitScope(req.Scope))
	at, rt, err := c.tokens.IssueAccessToken(client.ID, subject, scopes, c.accessTokenTTL, true, c.refreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return grantResponse(at, rt.Token, scopes), nil
}

func (c *Core) refresh(req GrantRequest) (*GrantResponse, error) {
	if req.RefreshToken == "" {
		return nil, &GrantError{Code: "invalid_request", Description: "missing refresh_token"}
	}

	client, err := c.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		c.auditFailure("refresh_token", req.ClientID, err)
		return nil, err
	}
	if !client.allowsGrant(GrantRefreshToken) {
		err := &GrantError{Code: "unauthorized_client", Description: "client not allowed to use refresh_token"}
		c.auditFailure("refresh_token", req.ClientID, err)
		return nil, err
	}

	existing, ok := c.tokens.LookupRefreshToken(req.RefreshToken)
	if !ok {
		err := &GrantError{Code: "invalid_grant", Description: "unknown or expired refresh token"}
		c.auditFailure("refresh_token", req.ClientID, err)
		return nil, err
	}
	if existing.ClientID != client.ID {
		err := &GrantError{Code: "invalid_grant", Description: "refresh token was issued to a different client"}
		c.auditFailure("refresh_token", req.ClientID, err)
		return nil, err
	}

	var scopes []string
	if req.Scope != "" {
		scopes = intersectScopes(existing.Scopes, splitScope(req.Scope))
	}

	at, rt, err := c.tokens.RotateRefreshToken(req.RefreshToken, scopes, c.accessTokenTTL, c.refreshTokenTTL)
	if err != nil {
		return nil, err
	}

	logging.Audit(logging.AuditEvent{
		Action:   "token_refresh",
		Outcome:  "success",
		ClientID: existing.ClientID,
	})

	return grantResponse(at, rt.Token, at.Scopes), nil
}

// Revoke invalidates a token per RFC 7009. Unknown tokens are a no-op.
func (c *Core) Revoke(token string) {
	c.tokens.Revoke(token)
	logging.Audit(logging.AuditEvent{Action: "token_revoke", Outcome: "success", Target: logging.TruncateSessionID(token)})
}

// Authenticate validates a bearer token presented on an inbound request,
// first against the static token list, then against the OAuth store.
func (c *Core) Authenticate(token string) (subject string, scopes []string, ok bool) {
	if token == "" {
		return "", nil, false
	}
	if c.staticTokens[token] {
		return "static", nil, true
	}
	at, found := c.tokens.LookupAccessToken(token)
	if !found {
		return "", nil, false
	}
	return at.Subject, at.Scopes, true
}

func (c *Core) auditFailure(grant, clientID string, err error) {
	logging.Audit(logging.AuditEvent{
		Action:   "token_issue",
		Outcome:  "failure",
		ClientID: clientID,
		Details:  grant,
		Error:    err.Error(),
	})
}

func grantResponse(at *AccessToken, refreshToken string, scopes []string) *GrantResponse {
	return &GrantResponse{
		AccessToken:  at.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(at.ExpiresAt).Seconds()),
		RefreshToken: refreshToken,
		Scope:        joinScope(scopes),
	}
}

func splitScope(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// intersectScopes narrows have down to the subset also present in want,
// so a refresh request can only shrink its token's scope, never grow it.
func intersectScopes(have, want []string) []string {
	allowed := make(map[string]bool, len(have))
	for _, s := range have {
		allowed[s] = true
	}
	var out []string
	for _, s := range want {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

func joinScope(scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}
	out := scopes[0]
	for _, s := range scopes[1:] {
		out += " " + s
	}
	return out
}
