package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadClient_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadClient("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Store.InitTimeout)
	assert.Equal(t, 15*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, 3, cfg.Sync.RetryCount)
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryMaxWait)
	assert.Equal(t, 3*time.Second, cfg.Connectivity.ProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.Connectivity.RecheckInterval)
	assert.Equal(t, 2*time.Minute, cfg.Connectivity.AutoSyncInterval)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.InterfacePoll)
	assert.Equal(t, 250*time.Millisecond, cfg.Inbox.Debounce)
	assert.Equal(t, 0, cfg.Dashboard.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoadClient_FileAndEnv(t *testing.T) {
	path := writeFile(t, "client.yaml", `
server:
  url: http://depot.local:9000
store:
  path: /tmp/field.db
connectivity:
  autosync_interval: 30s
reporter:
  name: Dana
log:
  level: debug
`)
	t.Setenv("PRESHIFT_LOG_LEVEL", "warn")
	t.Setenv("PRESHIFT_CONNECTIVITY_PROBE_TIMEOUT", "1s")

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "http://depot.local:9000", cfg.Server.URL)
	assert.Equal(t, "/tmp/field.db", cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.AutoSyncInterval)
	assert.Equal(t, time.Second, cfg.Connectivity.ProbeTimeout)
	assert.Equal(t, "Dana", cfg.Reporter.Name)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadClient_MissingExplicitFile(t *testing.T) {
	_, err := LoadClient(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadServer(t *testing.T) {
	path := writeFile(t, "server.yaml", `
server:
  port: "9090"
storage:
  driver: postgres
database:
  host: db
  name: checks
rate_limit:
  rps: 5
  burst: 10
`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Contains(t, cfg.Database.DSN(), "host=db")
	assert.Contains(t, cfg.Database.DSN(), "dbname=checks")
	assert.Contains(t, cfg.Database.DSN(), "sslmode=disable")
}

func TestLoadServer_BadDriver(t *testing.T) {
	path := writeFile(t, "server.yaml", "storage:\n  driver: mongo\n")

	_, err := LoadServer(path)
	assert.Error(t, err)
}
