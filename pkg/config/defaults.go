package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults fills unspecified configuration fields with sensible
// defaults. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	applyTransferDefaults(cfg)
	applyStorageDefaults(&cfg.Storage)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTransferDefaults(cfg *Config) {
	if cfg.Transfer.Port == 0 {
		cfg.Transfer.Port = 1234
	}
	if cfg.Transfer.Timeouts.Read == 0 {
		cfg.Transfer.Timeouts.Read = 5 * time.Minute
	}
	if cfg.Transfer.Timeouts.Write == 0 {
		cfg.Transfer.Timeouts.Write = 30 * time.Second
	}
	if cfg.Transfer.Timeouts.Idle == 0 {
		cfg.Transfer.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.Transfer.Timeouts.Shutdown == 0 {
		cfg.Transfer.Timeouts.Shutdown = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	dataHome := getDataDir()
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(dataHome, "registry")
	}
	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(dataHome, "files")
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Metrics are opt-in; the port only matters when enabled.
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// getDataDir returns the default state directory, preferring XDG_DATA_HOME
// over ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "droplock")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "droplock")
}

// GetDefaultConfig returns a Config with all defaults applied. Used for
// generating sample configuration files and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
