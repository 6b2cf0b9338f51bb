// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Chain registry: static per-chain data (endpoints, ban ranges, margins)
//   - Console settings: runtime configuration for the supervisor engine
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is the console release version.
const Version = "0.2.0"

// Config holds console runtime configuration.
type Config struct {
	// Core
	Chain   string `conf:"chain"`
	DataDir string `conf:"datadir"`

	// Supervised node
	RewardsAddress string   `conf:"rewards"`
	NodeBinary     string   `conf:"node.binary"`
	LogToFile      bool     `conf:"node.logtofile"`
	ExtraArgs      []string `conf:"node.args"`

	// Endpoint overrides (empty = use the chain registry values)
	LocalRPC    string `conf:"rpc.local"`
	BootnodeRPC string `conf:"rpc.bootnode"`

	// Trackers
	Tracker TrackerConfig

	// Safe mode
	SafeMode SafeModeConfig

	// Status broadcasting
	Status StatusConfig

	// Companion external miner
	Miner ExternalMinerConfig

	// Metrics (minerd only)
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// TrackerConfig holds head-tracker settings. Intervals are in seconds.
type TrackerConfig struct {
	HealthInterval int `conf:"tracker.health"`
	Grace          int `conf:"tracker.grace"`
}

// HealthPeriod returns the local health-poll period.
func (t TrackerConfig) HealthPeriod() time.Duration {
	return time.Duration(t.HealthInterval) * time.Second
}

// GracePeriod returns the bootnode silence window before fallback queries.
func (t TrackerConfig) GracePeriod() time.Duration {
	return time.Duration(t.Grace) * time.Second
}

// SafeModeConfig holds safe-mode controller settings.
type SafeModeConfig struct {
	Enabled  bool `conf:"safemode.enabled"`
	Interval int  `conf:"safemode.interval"` // evaluation tick, seconds
}

// Period returns the safe-mode evaluation period.
func (s SafeModeConfig) Period() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// StatusConfig holds status broadcaster settings.
type StatusConfig struct {
	Interval int `conf:"status.interval"` // snapshot cadence, seconds
}

// Period returns the snapshot emission period.
func (s StatusConfig) Period() time.Duration {
	return time.Duration(s.Interval) * time.Second
}

// ExternalMinerConfig holds settings for the optional companion miner
// process spawned alongside the node.
type ExternalMinerConfig struct {
	Enabled bool   `conf:"miner.enabled"`
	Binary  string `conf:"miner.binary"`
	Cores   int    `conf:"miner.cores"`
	Port    int    `conf:"miner.port"`
}

// MetricsConfig holds the prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Addr    string `conf:"metrics.addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.quantus
//	macOS:   ~/Library/Application Support/Quantus
//	Windows: %APPDATA%\Quantus
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quantus"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Quantus")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Quantus")
		}
		return filepath.Join(home, "AppData", "Roaming", "Quantus")
	default:
		return filepath.Join(home, ".quantus")
	}
}

// NodeBaseDir returns the base path handed to the supervised node
// (its --base-path). The node lays out per-chain data beneath it.
func (c *Config) NodeBaseDir() string {
	return filepath.Join(c.DataDir, "quantus-node")
}

// ChainDir returns the node's per-chain directory.
func (c *Config) ChainDir(chain string) string {
	return filepath.Join(c.NodeBaseDir(), "chains", chain)
}

// ChainDBDir returns the node's database directory for a chain.
// This is the directory removed by a repair.
func (c *Config) ChainDBDir(chain string) string {
	return filepath.Join(c.ChainDir(chain), "db")
}

// LockFile returns the node's database lock file for a chain.
// This is the single file removed by an unlock.
func (c *Config) LockFile(chain string) string {
	return filepath.Join(c.ChainDBDir(chain), "full", "LOCK")
}

// NodeKeyFile returns the node's network identity key file for a chain.
func (c *Config) NodeKeyFile(chain string) string {
	return filepath.Join(c.ChainDir(chain), "network", "secret_dilithium")
}

// LogsDir returns the per-run log file directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// HistoryDir returns the found-block/run history database directory.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.DataDir, "history")
}

// SafeRangesFile returns the per-chain safe-range override file path.
func (c *Config) SafeRangesFile() string {
	return filepath.Join(c.DataDir, "safe-ranges.json")
}

// AccountFile returns the rewards account file path maintained by the
// external account tool. Read-only here.
func (c *Config) AccountFile() string {
	return filepath.Join(c.DataDir, "account.json")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "miner.conf")
}

// EnsureDataDirs creates the console-owned directories and drops a default
// config file on first start. The supervised node creates its own layout.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.LogsDir(), cfg.HistoryDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if _, err := os.Stat(cfg.ConfigFile()); os.IsNotExist(err) {
		if err := WriteDefaultConfig(cfg.ConfigFile(), cfg.Chain); err != nil {
			return err
		}
	}
	return nil
}
