package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 1234, cfg.Transfer.Port)
	assert.Equal(t, 5*time.Minute, cfg.Transfer.Timeouts.Read)
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.NotEmpty(t, cfg.Storage.FilesDir)
	assert.False(t, cfg.Metrics.Enabled)

	require.NoError(t, Validate(cfg))
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:         LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
		ShutdownTimeout: time.Minute,
		Storage:         StorageConfig{DataDir: "/custom/data", FilesDir: "/custom/files"},
	}
	cfg.Transfer.Port = 9999
	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, 9999, cfg.Transfer.Port)
	assert.Equal(t, "/custom/data", cfg.Storage.DataDir)
	assert.Equal(t, "/custom/files", cfg.Storage.FilesDir)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
  format: json
shutdown_timeout: 45s
transfer:
  port: 2345
  max_connections: 64
  timeouts:
    read: 90s
storage:
  data_dir: /var/lib/droplock/registry
  files_dir: /var/lib/droplock/files
metrics:
  enabled: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2345, cfg.Transfer.Port)
	assert.Equal(t, 64, cfg.Transfer.MaxConnections)
	assert.Equal(t, 90*time.Second, cfg.Transfer.Timeouts.Read, "duration strings parse")
	assert.Equal(t, 30*time.Second, cfg.Transfer.Timeouts.Write, "unset fields get defaults")
	assert.Equal(t, "/var/lib/droplock/files", cfg.Storage.FilesDir)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port, "metrics port defaulted when enabled")
}

func TestLoad_InvalidLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: verbose
`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))

	cfg.Logging.Format = "xml"
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.ShutdownTimeout = 0
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Storage.DataDir = ""
	assert.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 70000
	assert.Error(t, Validate(cfg))
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Transfer.Port = 4321
	cfg.Logging.Format = "json"
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4321, loaded.Transfer.Port)
	assert.Equal(t, "json", loaded.Logging.Format)
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "droplock init")
}
