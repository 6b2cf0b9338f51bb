package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Chain   string
	DataDir string
	Config  string

	// Supervised node
	Rewards    string
	NodeBinary string
	NodeArgs   string
	LogToFile  bool

	// Endpoint overrides
	LocalRPC    string
	BootnodeRPC string

	// Safe mode
	SafeMode bool

	// External miner
	Miner      bool
	MinerCores int

	// Metrics
	Metrics     bool
	MetricsAddr string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetLogToFile bool
	SetSafeMode  bool
	SetMiner     bool
	SetMetrics   bool
	SetLogJSON   bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("miner-console", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Chain, "chain", "", "Chain to supervise (resonance, heisenberg, quantus)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Supervised node
	fs.StringVar(&f.Rewards, "rewards", "", "Address to receive block rewards")
	fs.StringVar(&f.NodeBinary, "node-binary", "", "Path to the quantus-node executable")
	fs.StringVar(&f.NodeArgs, "node-args", "", "Extra node flags, comma-separated")
	fs.BoolVar(&f.LogToFile, "log-to-file", true, "Mirror node output into per-run log files")

	// Endpoint overrides
	fs.StringVar(&f.LocalRPC, "local-rpc", "", "Local node RPC endpoint override")
	fs.StringVar(&f.BootnodeRPC, "bootnode", "", "Bootnode reference RPC endpoint override")

	// Safe mode
	fs.BoolVar(&f.SafeMode, "safe-mode", true, "Enable the safe-mode restart controller")

	// External miner
	fs.BoolVar(&f.Miner, "miner", false, "Spawn the companion external miner")
	fs.IntVar(&f.MinerCores, "miner-cores", 0, "External miner worker cores")

	// Metrics
	fs.BoolVar(&f.Metrics, "metrics", false, "Serve prometheus metrics")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Metrics listen address")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Console log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	// Custom usage
	fs.Usage = func() {
		printUsage()
	}

	// Parse
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetLogToFile = isFlagSet(fs, "log-to-file")
	f.SetSafeMode = isFlagSet(fs, "safe-mode")
	f.SetMiner = isFlagSet(fs, "miner")
	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the parser.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintf(os.Stderr, "Error: flag %q was not parsed (positional argument stopped parsing)\n", arg)
			os.Exit(1)
		}
	}

	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Chain != "" {
		cfg.Chain = f.Chain
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Supervised node
	if f.Rewards != "" {
		cfg.RewardsAddress = f.Rewards
	}
	if f.NodeBinary != "" {
		cfg.NodeBinary = f.NodeBinary
	}
	if f.NodeArgs != "" {
		cfg.ExtraArgs = parseStringList(f.NodeArgs)
	}
	if f.SetLogToFile {
		cfg.LogToFile = f.LogToFile
	}

	// Endpoint overrides
	if f.LocalRPC != "" {
		cfg.LocalRPC = f.LocalRPC
	}
	if f.BootnodeRPC != "" {
		cfg.BootnodeRPC = f.BootnodeRPC
	}

	// Safe mode
	if f.SetSafeMode {
		cfg.SafeMode.Enabled = f.SafeMode
	}

	// External miner
	if f.SetMiner {
		cfg.Miner.Enabled = f.Miner
	}
	if f.MinerCores != 0 {
		cfg.Miner.Cores = f.MinerCores
	}

	// Metrics
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}
	if f.MetricsAddr != "" {
		cfg.Metrics.Addr = f.MetricsAddr
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `Quantus Miner Console - supervises a quantus-node mining process

Usage:
  minerd [options]
  minerd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --chain         Chain to supervise: resonance (default), heisenberg, quantus
  --datadir       Data directory (default: ~/.quantus)
  --config, -c    Config file path (default: <datadir>/miner.conf)

Node Options:
  --rewards       Address to receive block rewards
  --node-binary   Path to the quantus-node executable (default: $PATH lookup)
  --node-args     Extra node flags, comma-separated
  --log-to-file   Mirror node output into per-run log files (default: true)

Endpoint Options:
  --local-rpc     Local node RPC endpoint (default: ws://127.0.0.1:9944)
  --bootnode      Bootnode reference RPC endpoint (default: per chain)

Safe Mode Options:
  --safe-mode     Enable the safe-mode restart controller (default: true)

External Miner Options:
  --miner         Spawn the companion external miner
  --miner-cores   External miner worker cores

Metrics Options:
  --metrics       Serve prometheus metrics
  --metrics-addr  Metrics listen address (default: 127.0.0.1:9615)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Console log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Supervise resonance with rewards from account.json
  minerd

  # Supervise mainnet with an explicit rewards address
  minerd --chain=quantus --rewards=<address>

  # Custom node build with metrics
  minerd --node-binary=/opt/quantus/quantus-node --metrics

Note:
  Built-in safe-mode ranges can be overridden per chain in
  <datadir>/safe-ranges.json. Data directories are created
  automatically on first start.
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	// Handle help/version
	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("minerd version " + Version)
		os.Exit(0)
	}

	// Start with defaults
	cfg := Default(flags.Chain)

	// Override datadir if specified
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	// Auto-create data directories and default config on first start.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	// Determine config file path
	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	// Load config file
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	// Apply file config
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}
