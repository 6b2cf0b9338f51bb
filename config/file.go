package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads console configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a console config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "chain":
		cfg.Chain = value
	case "datadir":
		cfg.DataDir = value

	// Supervised node
	case "rewards":
		cfg.RewardsAddress = value
	case "node.binary":
		cfg.NodeBinary = value
	case "node.logtofile":
		cfg.LogToFile = parseBool(value)
	case "node.args":
		cfg.ExtraArgs = parseStringList(value)

	// Endpoint overrides
	case "rpc.local":
		cfg.LocalRPC = value
	case "rpc.bootnode":
		cfg.BootnodeRPC = value

	// Trackers
	case "tracker.health":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Tracker.HealthInterval = n
	case "tracker.grace":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Tracker.Grace = n

	// Safe mode
	case "safemode.enabled", "safemode":
		cfg.SafeMode.Enabled = parseBool(value)
	case "safemode.interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.SafeMode.Interval = n

	// Status
	case "status.interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Status.Interval = n

	// External miner
	case "miner.enabled", "miner":
		cfg.Miner.Enabled = parseBool(value)
	case "miner.binary":
		cfg.Miner.Binary = value
	case "miner.cores":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Miner.Cores = n
	case "miner.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Miner.Port = port

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.addr":
		cfg.Metrics.Addr = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default console configuration file.
func WriteDefaultConfig(path string, chain string) error {
	if chain == "" {
		chain = DefaultChain
	}
	content := `# Quantus Miner Console Configuration
#
# Chain endpoints and known safe-mode ranges are built into the chain
# registry; this file holds console settings only. Per-chain range
# overrides live in safe-ranges.json next to this file.

# Chain: resonance, heisenberg, or quantus
chain = ` + chain + `

# Data directory (default: ~/.quantus)
# datadir = ~/.quantus

# ============================================================================
# Supervised Node
# ============================================================================

# Address receiving block rewards (read from account.json when unset)
# rewards = <your-address>

# Node executable (resolved on $PATH when not an absolute path)
node.binary = quantus-node

# Mirror node output into per-run files under <datadir>/logs
node.logtofile = true

# Extra node flags, comma-separated
# node.args = --validator

# ============================================================================
# RPC Endpoints
# ============================================================================

# Override the local node RPC endpoint
# rpc.local = ws://127.0.0.1:9944

# Override the bootnode reference endpoint
# rpc.bootnode =

# ============================================================================
# Trackers
# ============================================================================

# Local health poll period, seconds
tracker.health = 5

# Bootnode silence window before fallback queries, seconds
tracker.grace = 60

# ============================================================================
# Safe Mode
# ============================================================================

safemode.enabled = true

# Evaluation tick, seconds
safemode.interval = 10

# ============================================================================
# Status
# ============================================================================

# Snapshot cadence, seconds
status.interval = 3

# ============================================================================
# External Miner
# ============================================================================

# Spawn a companion mining process alongside the node
miner.enabled = false
# miner.binary = quantus-miner
# miner.cores = 1
# miner.port = 9833

# ============================================================================
# Metrics (minerd)
# ============================================================================

metrics.enabled = false
# metrics.addr = 127.0.0.1:9615

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
