package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gatewayd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
backends:
  - id: filesystem
    command: mcp-server-filesystem
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "stdio", cfg.Backends[0].Transport)
	assert.Equal(t, DefaultCallTimeout, cfg.Backends[0].CallTimeout.Duration())
}

func TestLoadRejectsDuplicateBackendIDs(t *testing.T) {
	path := writeTempConfig(t, `
backends:
  - id: fs
    command: a
  - id: fs
    command: b
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backend id")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeTempConfig(t, `
logLevel: verbose
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logLevel")
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeTempConfig(t, `
auth:
  accessTokenTTL: 45m
  refreshTokenTTL: 12h
backends:
  - id: b
    command: c
    connectTimeout: 2s
    callTimeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "45m0s", cfg.Auth.AccessTokenTTL.Duration().String())
	assert.Equal(t, "12h0m0s", cfg.Auth.RefreshTokenTTL.Duration().String())
	assert.Equal(t, "2s", cfg.Backends[0].ConnectTimeout.Duration().String())
}

func TestEnvOverridesPort(t *testing.T) {
	path := writeTempConfig(t, `
port: 9000
`)
	t.Setenv("GATEWAYD_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}
