package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/Quantus-Network/miner-console/config"
	"github.com/Quantus-Network/miner-console/internal/console"
	"github.com/Quantus-Network/miner-console/internal/log"
)

// qtSettings is the persistent configuration written to qt-settings.json.
type qtSettings struct {
	Chain          string   `json:"chain"`
	DataDir        string   `json:"data_dir"`
	RewardsAddress string   `json:"rewards_address,omitempty"`
	NodeBinary     string   `json:"node_binary,omitempty"`
	NodeArgs       []string `json:"node_args,omitempty"`
	LogToFile      bool     `json:"log_to_file"`
	SafeMode       bool     `json:"safe_mode"`
	MinerEnabled   bool     `json:"miner_enabled"`
	MinerBinary    string   `json:"miner_binary,omitempty"`
	MinerCores     int      `json:"miner_cores,omitempty"`
	LocalRPC       string   `json:"local_rpc,omitempty"`
	BootnodeRPC    string   `json:"bootnode_rpc,omitempty"`
}

// App manages application lifecycle, settings, and the supervision engine.
type App struct {
	ctx context.Context

	mu       sync.RWMutex
	settings qtSettings

	console *console.Console
	initErr error
	cancels []func()

	node    *NodeService
	history *HistoryService
}

// NewApp creates the application with default settings.
func NewApp() *App {
	def := config.Default("")
	app := &App{
		settings: qtSettings{
			Chain:     def.Chain,
			DataDir:   def.DataDir,
			LogToFile: def.LogToFile,
			SafeMode:  def.SafeMode.Enabled,
		},
	}
	app.node = &NodeService{app: app}
	app.history = &HistoryService{app: app}
	app.loadSettings()
	return app
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.initConsole()
}

func (a *App) shutdown(_ context.Context) {
	for _, cancel := range a.cancels {
		cancel()
	}
	if a.console != nil {
		_ = a.console.Close()
	}
}

// initConsole builds the engine from the current settings. Failures are
// kept in initErr so the frontend can surface them instead of crashing.
func (a *App) initConsole() {
	cfg := a.buildConfig()
	if err := config.EnsureDataDirs(cfg); err != nil {
		a.initErr = err
		return
	}
	if err := log.Init("info", false, filepath.Join(cfg.DataDir, "miner-qt.log")); err != nil {
		_ = log.Init("info", false, "")
	}
	if err := config.Validate(cfg); err != nil {
		a.initErr = err
		log.Console.Error().Err(err).Msg("invalid settings")
		return
	}
	c, err := console.New(cfg)
	if err != nil {
		a.initErr = err
		log.Console.Error().Err(err).Msg("engine init failed")
		return
	}
	a.console = c
	a.initErr = nil
	a.forwardEvents()
}

// buildConfig maps the persisted GUI settings onto a runtime config.
func (a *App) buildConfig() *config.Config {
	s := a.snapshotSettings()

	cfg := config.Default(s.Chain)
	if s.DataDir != "" {
		cfg.DataDir = s.DataDir
	}
	cfg.RewardsAddress = s.RewardsAddress
	if s.NodeBinary != "" {
		cfg.NodeBinary = s.NodeBinary
	}
	cfg.ExtraArgs = append([]string(nil), s.NodeArgs...)
	cfg.LogToFile = s.LogToFile
	cfg.SafeMode.Enabled = s.SafeMode
	cfg.Miner.Enabled = s.MinerEnabled
	if s.MinerBinary != "" {
		cfg.Miner.Binary = s.MinerBinary
	}
	if s.MinerCores > 0 {
		cfg.Miner.Cores = s.MinerCores
	}
	cfg.LocalRPC = s.LocalRPC
	cfg.BootnodeRPC = s.BootnodeRPC
	return cfg
}

// engine returns the live console, or the init failure that prevented it.
func (a *App) engine() (*console.Console, error) {
	if a.console == nil {
		if a.initErr != nil {
			return nil, a.initErr
		}
		return nil, errors.New("engine not initialized")
	}
	return a.console, nil
}

func (a *App) snapshotSettings() qtSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.settings
	s.NodeArgs = append([]string(nil), a.settings.NodeArgs...)
	return s
}

// ── Settings persistence ─────────────────────────────────────────────

func (a *App) settingsPath() string {
	a.mu.RLock()
	dir := a.settings.DataDir
	a.mu.RUnlock()
	return filepath.Join(dir, "qt-settings.json")
}

func (a *App) loadSettings() {
	data, err := os.ReadFile(a.settingsPath())
	if err != nil {
		return // first launch or missing file, keep defaults
	}
	var s qtSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return
	}
	a.mu.Lock()
	if s.Chain == "" {
		s.Chain = a.settings.Chain
	}
	if s.DataDir == "" {
		s.DataDir = a.settings.DataDir
	}
	a.settings = s
	a.mu.Unlock()
}

func (a *App) saveSettings() {
	s := a.snapshotSettings()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return
	}
	path := a.settingsPath()
	_ = os.MkdirAll(filepath.Dir(path), 0700)
	_ = os.WriteFile(path, data, 0600)
}

// ── Getters / Setters (each setter persists) ─────────────────────────

// GetSettings returns the current settings.
func (a *App) GetSettings() qtSettings {
	return a.snapshotSettings()
}

// GetVersion returns the console version string.
func (a *App) GetVersion() string {
	return config.Version
}

// InitError returns the startup failure, if any, as a display string.
func (a *App) InitError() string {
	if a.initErr != nil {
		return a.initErr.Error()
	}
	return ""
}

// ChainOption describes one selectable network.
type ChainOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetChains lists the networks the console can supervise.
func (a *App) GetChains() []ChainOption {
	chains := config.Chains()
	out := make([]ChainOption, len(chains))
	for i, c := range chains {
		out[i] = ChainOption{ID: c.ID, Name: c.Name}
	}
	return out
}

// SetChain updates the selected chain. The switch takes effect on the
// next node start.
func (a *App) SetChain(id string) error {
	if _, ok := config.ChainByID(id); !ok {
		return errors.New("unknown chain " + id)
	}
	a.mu.Lock()
	a.settings.Chain = id
	a.mu.Unlock()
	a.saveSettings()
	return nil
}

// SetDataDir updates the data directory. Takes effect on next launch.
func (a *App) SetDataDir(dir string) {
	a.mu.Lock()
	a.settings.DataDir = dir
	a.mu.Unlock()
	a.saveSettings()
}

// SetRewardsAddress updates the block-rewards address.
func (a *App) SetRewardsAddress(addr string) {
	a.mu.Lock()
	a.settings.RewardsAddress = addr
	a.mu.Unlock()
	a.saveSettings()
}

// SetNodeBinary updates the node executable path.
func (a *App) SetNodeBinary(path string) {
	a.mu.Lock()
	a.settings.NodeBinary = path
	a.mu.Unlock()
	a.saveSettings()
}

// SetNodeArgs updates the extra node flags.
func (a *App) SetNodeArgs(args []string) {
	a.mu.Lock()
	a.settings.NodeArgs = append([]string(nil), args...)
	a.mu.Unlock()
	a.saveSettings()
}

// SetLogToFile toggles per-run node log files.
func (a *App) SetLogToFile(v bool) {
	a.mu.Lock()
	a.settings.LogToFile = v
	a.mu.Unlock()
	a.saveSettings()
}

// SetSafeMode toggles the safe-mode controller. Takes effect on next launch.
func (a *App) SetSafeMode(v bool) {
	a.mu.Lock()
	a.settings.SafeMode = v
	a.mu.Unlock()
	a.saveSettings()
}

// SetMinerEnabled toggles the companion external miner.
func (a *App) SetMinerEnabled(v bool) {
	a.mu.Lock()
	a.settings.MinerEnabled = v
	a.mu.Unlock()
	a.saveSettings()
}

// SetMinerBinary updates the external miner executable path.
func (a *App) SetMinerBinary(path string) {
	a.mu.Lock()
	a.settings.MinerBinary = path
	a.mu.Unlock()
	a.saveSettings()
}

// SetMinerCores updates the external miner core count.
func (a *App) SetMinerCores(n int) {
	a.mu.Lock()
	a.settings.MinerCores = n
	a.mu.Unlock()
	a.saveSettings()
}

// SetEndpoints overrides the RPC endpoints. Empty strings restore the
// chain registry defaults. Takes effect on next launch.
func (a *App) SetEndpoints(localRPC, bootnodeRPC string) {
	a.mu.Lock()
	a.settings.LocalRPC = localRPC
	a.settings.BootnodeRPC = bootnodeRPC
	a.mu.Unlock()
	a.saveSettings()
}
