package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) (*Core, *ClientRegistry, *TokenStore) {
	t.Helper()
	clients := NewClientRegistry([]Client{
		{
			ID:         "cursor-desktop",
			Secret:     "s3cret",
			Name:       "Cursor Desktop",
			Scopes:     []string{"tools:read", "tools:call"},
			GrantTypes: []GrantType{GrantClientCredentials, GrantRefreshToken, GrantPassword},
		},
		{
			ID:         "readonly-client",
			Secret:     "readonly",
			GrantTypes: []GrantType{GrantClientCredentials},
			Scopes:     []string{"tools:read"},
		},
	})
	tokens := NewTokenStore()
	t.Cleanup(tokens.Stop)

	core := NewCore(clients, tokens, AllowAllVerifier{}, []string{"dev-token-123"}, time.Hour, 24*time.Hour)
	return core, clients, tokens
}

func TestClientCredentialsGrantIssuesAccessTokenOnly(t *testing.T) {
	core, _, _ := newTestCore(t)

	resp, err := core.Token(GrantRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
}

func TestClientCredentialsGrantRejectsBadSecret(t *testing.T) {
	core, _, _ := newTestCore(t)

	_, err := core.Token(GrantRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "cursor-desktop",
		ClientSecret: "wrong",
	})
	require.Error(t, err)
	ge, ok := err.(*GrantError)
	require.True(t, ok)
	assert.Equal(t, "invalid_client", ge.Code)
}

func TestPasswordGrantRejectsDisallowedGrantType(t *testing.T) {
	core, _, _ := newTestCore(t)

	_, err := core.Token(GrantRequest{
		GrantType:    GrantPassword,
		ClientID:     "readonly-client",
		ClientSecret: "readonly",
		Username:     "alice",
		Password:     "whatever",
	})
	require.Error(t, err)
	ge, ok := err.(*GrantError)
	require.True(t, ok)
	assert.Equal(t, "unauthorized_client", ge.Code)
}

func TestPasswordGrantIssuesAccessAndRefreshToken(t *testing.T) {
	core, _, _ := newTestCore(t)

	resp, err := core.Token(GrantRequest{
		GrantType:    GrantPassword,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
		Username:     "alice",
		Password:     "anything-at-all",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestRefreshTokenGrantRotatesTokens(t *testing.T) {
	core, _, _ := newTestCore(t)

	first, err := core.Token(GrantRequest{
		GrantType:    GrantPassword,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
		Username:     "alice",
		Password:     "x",
	})
	require.NoError(t, err)

	second, err := core.Token(GrantRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The rotated-out refresh token must no longer work.
	_, err = core.Token(GrantRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
		RefreshToken: first.RefreshToken,
	})
	require.Error(t, err)
}

func TestRefreshTokenGrantRejectsMissingOrBadClientSecret(t *testing.T) {
	core, _, _ := newTestCore(t)

	issued, err := core.Token(GrantRequest{
		GrantType:    GrantPassword,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
		Username:     "alice",
		Password:     "x",
	})
	require.NoError(t, err)

	_, err = core.Token(GrantRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: issued.RefreshToken,
	})
	require.Error(t, err)
	ge, ok := err.(*GrantError)
	require.True(t, ok)
	assert.Equal(t, "invalid_client", ge.Code)

	_, err = core.Token(GrantRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "cursor-desktop",
		ClientSecret: "wrong",
		RefreshToken: issued.RefreshToken,
	})
	require.Error(t, err)
	ge, ok = err.(*GrantError)
	require.True(t, ok)
	assert.Equal(t, "invalid_client", ge.Code)

	// The refresh token must still be usable with the correct secret.
	_, err = core.Token(GrantRequest{
		GrantType:    GrantRefreshToken,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
		RefreshToken: issued.RefreshToken,
	})
	require.NoError(t, err)
}

func TestAuthenticateAcceptsStaticAndIssuedTokens(t *testing.T) {
	core, _, _ := newTestCore(t)

	_, _, ok := core.Authenticate("dev-token-123")
	assert.True(t, ok)

	resp, err := core.Token(GrantRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
	})
	require.NoError(t, err)

	subject, scopes, ok := core.Authenticate(resp.AccessToken)
	assert.True(t, ok)
	assert.Equal(t, "cursor-desktop", subject)
	assert.Contains(t, scopes, "tools:read")

	_, _, ok = core.Authenticate("not-a-real-token")
	assert.False(t, ok)
}

func TestRevokeInvalidatesAccessToken(t *testing.T) {
	core, _, _ := newTestCore(t)

	resp, err := core.Token(GrantRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "cursor-desktop",
		ClientSecret: "s3cret",
	})
	require.NoError(t, err)

	core.Revoke(resp.AccessToken)

	_, _, ok := core.Authenticate(resp.AccessToken)
	assert.False(t, ok)
}

func TestClientRegistryRejectsRemovingStaticClient(t *testing.T) {
	_, clients, _ := newTestCore(t)
	err := clients.Remove("cursor-desktop")
	assert.Error(t, err)
}

func TestClientRegistryAddAndRemoveRuntimeClient(t *testing.T) {
	_, clients, tokens := newTestCore(t)

	err := clients.Add(Client{ID: "runtime-client", Secret: "x", GrantTypes: []GrantType{GrantClientCredentials}})
	require.NoError(t, err)

	_, ok := clients.Lookup("runtime-client")
	assert.True(t, ok)

	at, _, err := tokens.IssueAccessToken("runtime-client", "runtime-client", nil, time.Hour, false, 0)
	require.NoError(t, err)

	require.NoError(t, clients.Remove("runtime-client"))
	n := tokens.RevokeAllForClient("runtime-client")
	assert.Equal(t, 1, n)

	_, found := tokens.LookupAccessToken(at.Token)
	assert.False(t, found)
}

func TestTokenStoreSweepRemovesExpiredEntries(t *testing.T) {
	tokens := NewTokenStore()
	defer tokens.Stop()

	at, _, err := tokens.IssueAccessToken("c", "c", nil, -time.Second, false, 0)
	require.NoError(t, err)

	tokens.sweep()

	_, found := tokens.access[at.Token]
	assert.False(t, found)
}
