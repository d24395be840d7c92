// Package config loads and writes the on-disk configuration. Values resolve
// in the usual order: explicit file, environment (MEALROTA_*), built-in
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// RemoteConfig points at the cloud backend. Both fields empty means the app
// runs purely offline.
type RemoteConfig struct {
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint"`
	APIKey         string `mapstructure:"api_key" toml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
}

// SyncConfig tunes the background sync engine.
type SyncConfig struct {
	IntervalSeconds      int `mapstructure:"interval_seconds" toml:"interval_seconds"`
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds" toml:"probe_interval_seconds"`
}

// DaemonConfig tunes the background daemon.
type DaemonConfig struct {
	ListenPort  int    `mapstructure:"listen_port" toml:"listen_port"`
	LogFile     string `mapstructure:"log_file" toml:"log_file"`
	TriggerFile string `mapstructure:"trigger_file" toml:"trigger_file"`
}

// Config is the full configuration tree.
type Config struct {
	HouseholdName string       `mapstructure:"household_name" toml:"household_name"`
	DataDir       string       `mapstructure:"data_dir" toml:"data_dir"`
	Remote        RemoteConfig `mapstructure:"remote" toml:"remote"`
	Sync          SyncConfig   `mapstructure:"sync" toml:"sync"`
	Daemon        DaemonConfig `mapstructure:"daemon" toml:"daemon"`
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mealrota"
	}
	return filepath.Join(home, ".mealrota")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

func defaults(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		Remote:  RemoteConfig{TimeoutSeconds: 10},
		Sync: SyncConfig{
			IntervalSeconds:      30,
			ProbeIntervalSeconds: 30,
		},
		Daemon: DaemonConfig{
			ListenPort:  7433,
			LogFile:     filepath.Join(dataDir, "daemon.log"),
			TriggerFile: filepath.Join(dataDir, "sync-trigger"),
		},
	}
}

// Load reads the config file at path, filling absent values from environment
// variables and defaults. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	def := defaults(filepath.Dir(path))

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("MEALROTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("household_name", def.HouseholdName)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("remote.endpoint", def.Remote.Endpoint)
	v.SetDefault("remote.api_key", def.Remote.APIKey)
	v.SetDefault("remote.timeout_seconds", def.Remote.TimeoutSeconds)
	v.SetDefault("sync.interval_seconds", def.Sync.IntervalSeconds)
	v.SetDefault("sync.probe_interval_seconds", def.Sync.ProbeIntervalSeconds)
	v.SetDefault("daemon.listen_port", def.Daemon.ListenPort)
	v.SetDefault("daemon.log_file", def.Daemon.LogFile)
	v.SetDefault("daemon.trigger_file", def.Daemon.TriggerFile)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			// No file yet; env and defaults carry it.
		} else {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Save writes the config as TOML, creating the directory if needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open config for writing: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Configured reports whether a cloud backend has been set up.
func (c Config) Configured() bool {
	return c.Remote.Endpoint != "" && c.Remote.APIKey != ""
}

// DBPath returns the SQLite database location under the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "mealrota.db")
}

// RemoteTimeout returns the request timeout as a duration.
func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// SyncInterval returns the pass interval as a duration.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}
