// ABOUTME: Tests for YAML config loading, env expansion and validation
// ABOUTME: Writes temp config files and asserts parsed values

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
database:
  path: "/var/lib/parley/parley.db"
auth:
  jwt_secret: "super-secret"
cors:
  allowed_origins:
    - "https://chat.example.com"
    - "https://admin.example.com"
socket:
  ping_interval: "20s"
  pong_timeout: "50s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/parley/parley.db", cfg.Database.Path)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://chat.example.com", "https://admin.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 20*time.Second, cfg.Socket.PingInterval)
	assert.Equal(t, 50*time.Second, cfg.Socket.PongTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "parley.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 25*time.Second, cfg.Socket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Socket.PongTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PARLEY_TEST_SECRET", "from-env")
	path := writeConfig(t, `
database:
  path: "parley.db"
auth:
  jwt_secret: "${PARLEY_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadUnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "parley.db"
auth:
  jwt_secret: "${PARLEY_DEFINITELY_UNSET_VAR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoadRejectsMissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
database:
  path: ""
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "parley.db"
socket:
  ping_interval: "sometimes"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_interval")
}

func TestLoadRejectsPongNotExceedingPing(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "parley.db"
socket:
  ping_interval: "30s"
  pong_timeout: "30s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pong_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
