package config

import (
	"fmt"
	"strings"
)

// Validate checks console config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, ok := ChainByID(cfg.Chain); !ok {
		ids := make([]string, 0, len(registry))
		for _, c := range Chains() {
			ids = append(ids, c.ID)
		}
		return fmt.Errorf("unknown chain %q (known: %s)", cfg.Chain, strings.Join(ids, ", "))
	}
	if cfg.NodeBinary == "" {
		return fmt.Errorf("node.binary must not be empty")
	}
	if cfg.RewardsAddress != "" && strings.ContainsAny(cfg.RewardsAddress, " \t") {
		return fmt.Errorf("rewards address must not contain whitespace")
	}
	if cfg.Tracker.HealthInterval <= 0 {
		return fmt.Errorf("tracker.health must be positive")
	}
	if cfg.Tracker.Grace <= 0 {
		return fmt.Errorf("tracker.grace must be positive")
	}
	if cfg.SafeMode.Interval <= 0 {
		return fmt.Errorf("safemode.interval must be positive")
	}
	if cfg.Status.Interval <= 0 {
		return fmt.Errorf("status.interval must be positive")
	}
	if cfg.Miner.Enabled {
		if cfg.Miner.Cores <= 0 {
			return fmt.Errorf("miner.cores must be positive")
		}
		if cfg.Miner.Port <= 0 || cfg.Miner.Port > 65535 {
			return fmt.Errorf("miner.port must be in range [1, 65535]")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must not be empty when metrics are enabled")
	}
	return nil
}
