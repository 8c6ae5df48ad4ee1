package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/auth"
	"gatewayd/internal/gateway"
	"gatewayd/internal/registry"
	"gatewayd/internal/router"
	"gatewayd/internal/session"
)

func newTestDeps(t *testing.T) (Deps, *auth.Core) {
	t.Helper()
	reg := registry.New(nil)
	rt := router.New(reg, time.Second)
	gw := gateway.New(rt, rt)
	sessions := session.NewManager(time.Minute)
	t.Cleanup(sessions.Stop)

	clients := auth.NewClientRegistry([]auth.Client{
		{ID: "cli", Secret: "secret", GrantTypes: []auth.GrantType{auth.GrantClientCredentials}},
	})
	tokens := auth.NewTokenStore()
	t.Cleanup(tokens.Stop)
	core := auth.NewCore(clients, tokens, nil, []string{"dev-token"}, time.Hour, 24*time.Hour)
	handler := auth.NewHandler(core, "https://gatewayd.test")

	return Deps{
		Gateway:     gw,
		Registry:    reg,
		Sessions:    sessions,
		AuthCore:    core,
		AuthHandler: handler,
		Metrics:     NewMetrics(),
	}, core
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatedHealthAndStatus(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("Authorization", "Bearer dev-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)

	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer dev-token")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.ToolCount)
}

func TestStatelessRPCRoundTripViaHTTP(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer dev-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tools"`)
}

func TestRestartUnknownBackendReturnsNotFound(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	req := httptest.NewRequest(http.MethodPost, "/admin/backends/missing/restart", nil)
	req.Header.Set("Authorization", "Bearer dev-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOAuthTokenEndpointIsPublic(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	form := "grant_type=client_credentials&client_id=cli&client_secret=secret"
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp auth.GrantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
}

func TestMetricsEndpointIsReachableWithoutAuth(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatewayd_")
}

func TestIconRoutesReturnNotFoundWhenUnset(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	req := httptest.NewRequest(http.MethodGet, "/icon", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/icon.svg", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageEndpointRequiresSessionID(t *testing.T) {
	d, _ := newTestDeps(t)
	mux := NewMux(d)

	req := httptest.NewRequest(http.MethodPost, "/message", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer dev-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
