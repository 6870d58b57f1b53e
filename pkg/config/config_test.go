package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: 127.0.0.1
  port: 9090
storage:
  db_path: /tmp/streamdb
logging:
  level: debug
  format: json
rate_limit:
  rps: 2.5
  burst: 5
retention:
  enabled: true
  cron: "0 3 * * *"
  min_age: 30m
  dry_run: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "/tmp/streamdb", cfg.Storage.DBPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Retention.MinAge.Duration())
	assert.True(t, cfg.Retention.DryRun)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAddrDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`90s`), &d))
	assert.Equal(t, 90*time.Second, d.Duration())

	// plain numbers mean seconds
	require.NoError(t, yaml.Unmarshal([]byte(`45`), &d))
	assert.Equal(t, 45*time.Second, d.Duration())

	require.Error(t, yaml.Unmarshal([]byte(`soon`), &d))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STREAMDB_ADDR", "10.0.0.1:9999")
	t.Setenv("STREAMDB_DB_PATH", "/data/db")
	t.Setenv("STREAMDB_LOG_LEVEL", "warn")
	t.Setenv("STREAMDB_RATE_RPS", "7")
	t.Setenv("STREAMDB_RETENTION_ENABLED", "true")
	t.Setenv("STREAMDB_RETENTION_MIN_AGE", "2h")

	cfg := &Config{}
	used := LoadEnvOverrides(cfg)
	assert.True(t, used)
	assert.Equal(t, "10.0.0.1:9999", cfg.Addr())
	assert.Equal(t, "/data/db", cfg.Storage.DBPath)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7.0, cfg.RateLimit.RPS)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Retention.MinAge.Duration())
}

func TestLoadEnvOverridesSplitHostPort(t *testing.T) {
	t.Setenv("STREAMDB_ADDRESS", "192.168.1.5")
	t.Setenv("STREAMDB_PORT", "8088")

	cfg := &Config{}
	require.True(t, LoadEnvOverrides(cfg))
	assert.Equal(t, "192.168.1.5:8088", cfg.Addr())
}

func TestLoadEffectiveMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("STREAMDB_PORT", "9001")

	cfg, envUsed, err := LoadEffective(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, envUsed)
	assert.Equal(t, "0.0.0.0:9001", cfg.Addr())
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("STREAMDB_CONFIG", "/etc/streamdb.yaml")
	assert.Equal(t, "/etc/streamdb.yaml", ResolveConfigPath("./config.yaml", false))
	assert.Equal(t, "./flagged.yaml", ResolveConfigPath("./flagged.yaml", true))
}
