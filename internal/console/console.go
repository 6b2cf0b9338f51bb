// Package console is the engine facade. It wires the supervisor, the
// two head trackers, the log classifier, the safe-mode controller, the
// status broadcaster, history and metrics into one lifecycle and
// exposes the command surface the GUI shim and the daemon bind.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/Quantus-Network/miner-console/config"
	"github.com/Quantus-Network/miner-console/internal/event"
	"github.com/Quantus-Network/miner-console/internal/history"
	"github.com/Quantus-Network/miner-console/internal/log"
	"github.com/Quantus-Network/miner-console/internal/metrics"
	"github.com/Quantus-Network/miner-console/internal/parse"
	"github.com/Quantus-Network/miner-console/internal/safemode"
	"github.com/Quantus-Network/miner-console/internal/status"
	"github.com/Quantus-Network/miner-console/internal/storage"
	"github.com/Quantus-Network/miner-console/internal/supervisor"
	"github.com/Quantus-Network/miner-console/internal/tracker"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("console closed")

// StartOptions override the configured defaults for one node start.
// Zero fields fall back to the Config values; LogToFile is a pointer
// so "not given" and "off" stay distinguishable.
type StartOptions struct {
	Chain          string
	RewardsAddress string
	ExecPath       string
	ExtraArgs      []string
	LogToFile      *bool
}

// Console owns every engine component. Trackers and the broadcaster
// run for the console's whole lifetime; the supervised node starts and
// stops within it.
type Console struct {
	cfg       *config.Config
	installer Installer
	accounts  AccountProvider
	stopGrace time.Duration

	db    storage.DB
	hist  *history.Store
	sup   *supervisor.Supervisor
	miner *supervisor.ExtMiner
	met   *metrics.Metrics
	bcast *status.Broadcaster

	// Dialer overrides, for tests. Empty means dial the chain endpoints.
	localDial tracker.DialFunc
	bootDial  tracker.DialFunc

	mu     sync.Mutex
	chain  config.Chain
	local  *tracker.Local
	boot   *tracker.Bootnode
	safe   *safemode.Controller
	run    *history.Run
	phase  parse.Phase
	meta   parse.MetaCollector
	closed bool

	repairing atomic.Bool

	metaStream  *event.Stream[parse.Meta]
	foundStream *event.Stream[history.FoundBlock]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// Option adjusts console construction.
type Option func(*Console)

// WithInstaller replaces the default executable resolution.
func WithInstaller(i Installer) Option {
	return func(c *Console) { c.installer = i }
}

// WithAccountProvider replaces the default rewards-address resolution.
func WithAccountProvider(p AccountProvider) Option {
	return func(c *Console) { c.accounts = p }
}

// WithDialers overrides the tracker RPC dialers.
func WithDialers(local, boot tracker.DialFunc) Option {
	return func(c *Console) {
		c.localDial = local
		c.bootDial = boot
	}
}

// WithDB overrides the history database. The console closes it on
// Close either way.
func WithDB(db storage.DB) Option {
	return func(c *Console) { c.db = db }
}

// WithStopGrace overrides how long the node gets to exit after SIGINT.
func WithStopGrace(d time.Duration) Option {
	return func(c *Console) { c.stopGrace = d }
}

// New builds the engine for cfg.Chain and starts its ambient services:
// both trackers, the safe-mode ticker and the status broadcaster. The
// node itself is not started.
func New(cfg *config.Config, opts ...Option) (*Console, error) {
	c := &Console{
		cfg:       cfg,
		installer: pathInstaller{configured: cfg.NodeBinary},
		accounts:  fileAccountProvider{path: cfg.AccountFile()},
		stopGrace: supervisor.DefaultStopGrace,
		log:       log.Console,
	}
	for _, o := range opts {
		o(c)
	}

	if c.db == nil {
		db, err := storage.NewBadger(cfg.HistoryDir())
		if err != nil {
			return nil, fmt.Errorf("open history database: %w", err)
		}
		c.db = db
	}
	c.hist = history.NewStore(c.db)
	c.sup = supervisor.New(cfg.LogsDir(), c.stopGrace)
	c.miner = supervisor.NewExtMiner()
	c.met = metrics.New()
	c.metaStream = event.NewStream[parse.Meta](16)
	c.foundStream = event.NewStream[history.FoundBlock](16)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.bindChain(cfg.Chain); err != nil {
		c.db.Close()
		return nil, err
	}

	c.bcast = status.NewBroadcaster(cfg.Status.Period(), c.snapshot)
	c.bcast.Start()

	lines, cancelLines := c.sup.Lines()
	states, cancelStates := c.sup.States()
	c.wg.Add(2)
	go c.lineLoop(lines, cancelLines)
	go c.stateLoop(states, cancelStates)

	c.log.Info().Str("chain", cfg.Chain).Str("version", config.Version).Msg("Console ready")
	return c, nil
}

// Metrics returns the console's collector set, for the daemon's HTTP
// listener.
func (c *Console) Metrics() *metrics.Metrics { return c.met }

// ActiveChain returns the chain the engine is currently bound to.
func (c *Console) ActiveChain() config.Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain
}

// Running reports whether the supervised node is live.
func (c *Console) Running() bool { return c.sup.Running() }

// ── Event streams ──

// StatusStream subscribes to periodic status snapshots.
func (c *Console) StatusStream() (<-chan status.Snapshot, func()) {
	return c.bcast.Subscribe()
}

// Status returns the latest snapshot.
func (c *Console) Status() status.Snapshot { return c.bcast.Current() }

// ProcessStates subscribes to node process-state transitions.
func (c *Console) ProcessStates() (<-chan supervisor.StateEvent, func()) {
	return c.sup.States()
}

// Logs subscribes to node output lines.
func (c *Console) Logs() (<-chan supervisor.Line, func()) {
	return c.sup.Lines()
}

// MetaEvents subscribes to startup metadata, re-emitted as fields fill.
func (c *Console) MetaEvents() (<-chan parse.Meta, func()) {
	return c.metaStream.Subscribe()
}

// BlockEvents subscribes to accepted own-authorship blocks.
func (c *Console) BlockEvents() (<-chan history.FoundBlock, func()) {
	return c.foundStream.Subscribe()
}

// MinerEvents subscribes to classified external-miner events.
func (c *Console) MinerEvents() (<-chan parse.MinerEvent, func()) {
	return c.miner.Events()
}

// ── Commands ──

// Start resolves the effective run configuration, makes sure the node
// key exists and spawns the node. A live node yields
// supervisor.ErrAlreadyRunning.
func (c *Console) Start(opts StartOptions) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	activeChain := c.chain.ID
	c.mu.Unlock()

	chainID := opts.Chain
	if chainID == "" {
		chainID = activeChain
	}
	if chainID != activeChain {
		if err := c.bindChain(chainID); err != nil {
			return err
		}
	}

	binary := opts.ExecPath
	if binary == "" {
		binary = c.cfg.NodeBinary
	}
	if binary == "" {
		resolved, err := c.installer.ResolveExecutable()
		if err != nil {
			return fmt.Errorf("resolve node binary: %w", err)
		}
		binary = resolved
	}

	rewards := opts.RewardsAddress
	if rewards == "" {
		rewards = c.cfg.RewardsAddress
	}
	if rewards == "" {
		addr, err := c.accounts.ResolveRewardsAddress()
		if err != nil {
			c.log.Warn().Err(err).Msg("Rewards address unavailable")
		} else {
			rewards = addr
		}
	}

	logToFile := c.cfg.LogToFile
	if opts.LogToFile != nil {
		logToFile = *opts.LogToFile
	}
	extra := opts.ExtraArgs
	if extra == nil {
		extra = c.cfg.ExtraArgs
	}

	keyFile := c.cfg.NodeKeyFile(chainID)
	if err := supervisor.EnsureNodeKey(binary, keyFile); err != nil {
		return fmt.Errorf("ensure node key: %w", err)
	}

	c.mu.Lock()
	safe := c.safe
	c.mu.Unlock()
	if safe != nil {
		safe.Reset()
	}

	err := c.sup.Start(supervisor.RunArgs{
		Chain:          chainID,
		RewardsAddress: rewards,
		Binary:         binary,
		BasePath:       c.cfg.NodeBaseDir(),
		NodeKeyFile:    keyFile,
		ExtraArgs:      extra,
		LogToFile:      logToFile,
	})
	if err != nil {
		return err
	}

	if c.cfg.Miner.Enabled && c.cfg.Miner.Binary != "" {
		margs := supervisor.ExtMinerArgs{
			Binary: c.cfg.Miner.Binary,
			Cores:  c.cfg.Miner.Cores,
			Port:   c.cfg.Miner.Port,
		}
		if err := c.miner.Start(margs); err != nil && !errors.Is(err, supervisor.ErrAlreadyRunning) {
			c.log.Warn().Err(err).Msg("External miner failed to start")
		}
	}
	return nil
}

// Stop terminates the node (and the external miner). Idempotent.
func (c *Console) Stop() error {
	c.miner.Stop()
	err := c.sup.Stop()

	c.mu.Lock()
	safe := c.safe
	c.mu.Unlock()
	if safe != nil {
		safe.Reset()
	}
	return err
}

// Repair stops the node, deletes the active chain's database directory
// and restarts with the last-used arguments.
func (c *Console) Repair() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	chainID := c.chain.ID
	c.mu.Unlock()

	if err := c.sup.Repair(c.cfg.ChainDBDir(chainID)); err != nil {
		return err
	}
	c.met.IncNodeRestart()
	return nil
}

// Unlock stops the node, removes the database lock file and restarts
// with the last-used arguments.
func (c *Console) Unlock() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	chainID := c.chain.ID
	c.mu.Unlock()

	if err := c.sup.Unlock(c.cfg.LockFile(chainID)); err != nil {
		return err
	}
	c.met.IncNodeRestart()
	return nil
}

// ── Safe ranges ──

// SafeRanges returns the effective ban ranges for a chain (registry
// merged with the override file). Empty chain means the active one.
func (c *Console) SafeRanges(chainID string) ([]config.HeightRange, error) {
	ch, err := c.cfg.ResolveChain(c.chainOrActive(chainID))
	if err != nil {
		return nil, err
	}
	return ch.Ranges, nil
}

// SetSafeRanges persists override ranges for a chain and, when it is
// the active chain, swaps in a fresh safe-mode controller so the new
// ranges take effect. A pending or active safe-mode cycle is reset;
// the restrictive flag clears on the next restart.
func (c *Console) SetSafeRanges(chainID string, ranges []config.HeightRange) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	chainID = c.chainOrActive(chainID)
	if _, ok := config.ChainByID(chainID); !ok {
		return fmt.Errorf("unknown chain %q", chainID)
	}

	overrides, err := config.LoadSafeRanges(c.cfg.SafeRangesFile())
	if err != nil {
		return err
	}
	overrides[chainID] = ranges
	if err := config.SaveSafeRanges(c.cfg.SafeRangesFile(), overrides); err != nil {
		return err
	}
	c.log.Info().Str("chain", chainID).Int("ranges", len(ranges)).Msg("Safe ranges updated")

	c.mu.Lock()
	active := c.chain.ID
	c.mu.Unlock()
	if chainID != active {
		return nil
	}

	ch, err := c.cfg.ResolveChain(active)
	if err != nil {
		return err
	}
	safe := safemode.New(ch, c.cfg.SafeMode.Period(), c.safeRestart)

	c.mu.Lock()
	old := c.safe
	c.chain = ch
	c.safe = safe
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if c.cfg.SafeMode.Enabled {
		safe.Start()
	}
	return nil
}

// ── History ──

// FoundBlocks returns recorded blocks for a chain, newest first.
func (c *Console) FoundBlocks(chainID string, limit int) ([]history.FoundBlock, error) {
	return c.hist.Blocks(c.chainOrActive(chainID), limit)
}

// Runs returns recorded node runs for a chain, newest first.
func (c *Console) Runs(chainID string, limit int) ([]history.Run, error) {
	return c.hist.Runs(c.chainOrActive(chainID), limit)
}

// ClearHistory drops all recorded blocks and runs for a chain.
func (c *Console) ClearHistory(chainID string) error {
	return c.hist.Clear(c.chainOrActive(chainID))
}

// ── Teardown ──

// Close stops the node, the trackers and every background loop, then
// closes the history database. Safe to call more than once.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var result *multierror.Error
	if err := c.miner.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("external miner: %w", err))
	}
	if err := c.sup.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop node: %w", err))
	}

	c.bcast.Stop()

	c.mu.Lock()
	local, boot, safe := c.local, c.boot, c.safe
	c.local, c.boot, c.safe = nil, nil, nil
	c.mu.Unlock()
	if safe != nil {
		safe.Stop()
	}
	if local != nil {
		local.Stop()
	}
	if boot != nil {
		boot.Stop()
	}

	c.cancel()
	c.wg.Wait()

	if err := c.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("history database: %w", err))
	}
	c.log.Info().Msg("Console closed")
	return result.ErrorOrNil()
}

// ── Wiring internals ──

// bindChain resolves a chain and rebuilds the chain-bound services:
// both trackers and the safe-mode controller.
func (c *Console) bindChain(id string) error {
	ch, err := c.cfg.ResolveChain(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	oldLocal, oldBoot, oldSafe := c.local, c.boot, c.safe
	c.mu.Unlock()
	if oldSafe != nil {
		oldSafe.Stop()
	}
	if oldLocal != nil {
		oldLocal.Stop()
	}
	if oldBoot != nil {
		oldBoot.Stop()
	}

	localDial := c.localDial
	if localDial == nil {
		localDial = tracker.Dialer(ch.LocalRPC)
	}
	bootDial := c.bootDial
	if bootDial == nil {
		bootDial = tracker.Dialer(ch.BootnodeRPC)
	}

	local := tracker.NewLocal(localDial, c.cfg.Tracker.HealthPeriod())
	boot := tracker.NewBootnode(bootDial, c.cfg.Tracker.GracePeriod())
	safe := safemode.New(ch, c.cfg.SafeMode.Period(), c.safeRestart)

	local.Start()
	boot.Start()
	if c.cfg.SafeMode.Enabled {
		safe.Start()
	}

	c.mu.Lock()
	c.chain = ch
	c.local = local
	c.boot = boot
	c.safe = safe
	c.mu.Unlock()

	c.log.Info().Str("chain", ch.ID).Msg("Chain bound")
	return nil
}

// safeRestart is the controller's restart hook: rebuild the last args
// with the restrictive flag toggled and restart through the supervisor.
func (c *Console) safeRestart(enable bool) error {
	if !c.sup.Running() {
		return errors.New("node not running")
	}
	args, ok := c.sup.LastArgs()
	if !ok {
		return supervisor.ErrNeverStarted
	}

	// Stamp the interrupted run before the restart tears it down.
	c.mu.Lock()
	if c.run != nil {
		c.run.SafeRestarts++
		if err := c.hist.SaveRun(c.run); err != nil {
			c.log.Warn().Err(err).Msg("Run history update failed")
		}
	}
	c.mu.Unlock()

	if err := c.sup.Restart(args.WithSafeFlag(enable)); err != nil {
		return err
	}
	c.met.IncSafeModeRestart()
	c.met.IncNodeRestart()
	return nil
}

// snapshot composes one status snapshot from the live cells. Runs on
// every broadcaster tick; also feeds the metrics gauges and offers the
// local height to the safe-mode controller.
func (c *Console) snapshot() status.Snapshot {
	now := time.Now()

	c.mu.Lock()
	local, boot, safe := c.local, c.boot, c.safe
	phase := c.phase
	c.mu.Unlock()

	s := status.Snapshot{Phase: phase.String(), At: now}
	if local != nil {
		v := local.Source().View()
		if v.HasHeight {
			h := v.Height
			s.Best = &h
			c.met.SetLocalHeight(h)
			if safe != nil {
				safe.Offer(h)
			}
		}
		peers, syncing := local.Health()
		s.Peers = peers
		s.IsSyncing = syncing
	}
	if boot != nil {
		v := boot.Source().View()
		if v.HasHeight {
			h := v.Height
			s.Highest = &h
			c.met.SetNetworkHeight(h)
		}
		s.BootnodeConnected = v.Connected
		s.BootnodeStaleSecs = uint64(v.StaleFor(now) / time.Second)
	}
	if safe != nil {
		s.SafeMode = safe.FlagActive()
	}

	c.met.SetNodeRunning(c.sup.Running())
	c.met.SetPeers(s.Peers)
	c.met.SetSyncing(s.IsSyncing)
	c.met.SetSafeModeActive(s.SafeMode)
	c.met.SetBootnodeStale(float64(s.BootnodeStaleSecs))
	return s
}

func (c *Console) chainOrActive(id string) string {
	if id != "" {
		return id
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain.ID
}

// ── Pipelines ──

func (c *Console) lineLoop(lines <-chan supervisor.Line, cancel func()) {
	defer c.wg.Done()
	defer cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ln, ok := <-lines:
			if !ok {
				return
			}
			c.handleLine(ln)
		}
	}
}

func (c *Console) handleLine(ln supervisor.Line) {
	c.met.IncLine(ln.Source)

	if ev, ok := parse.ParseBlockAccepted(ln.Text); ok {
		c.onBlockAccepted(ev)
		return
	}

	c.mu.Lock()
	res := parse.ClassifyLine(c.phase, ln.Text)
	if res.HasPhase {
		c.phase = res.Phase
	}
	meta, metaChanged := c.meta.Scan(ln.Text)
	safe := c.safe
	c.mu.Unlock()

	if metaChanged {
		c.metaStream.Publish(meta)
	}
	if res.HasHeight && safe != nil {
		safe.Offer(res.Height)
	}
	if res.Corruption {
		c.autoRepair()
	}
}

// onBlockAccepted handles the node's structured block-accepted line,
// the one strong signal that this node authored a block.
func (c *Console) onBlockAccepted(ev parse.BlockAccepted) {
	c.mu.Lock()
	c.phase = parse.PhaseMining
	chainID := c.chain.ID
	runID := ""
	if c.run != nil {
		runID = c.run.ID
		c.run.FoundBlocks++
		if err := c.hist.SaveRun(c.run); err != nil {
			c.log.Warn().Err(err).Msg("Run history update failed")
		}
	}
	c.mu.Unlock()

	fb := history.FoundBlock{
		Chain:  chainID,
		Height: ev.Height,
		Hash:   ev.Hash,
		When:   time.Now(),
		RunID:  runID,
	}
	if err := c.hist.RecordBlock(fb); err != nil {
		c.log.Warn().Err(err).Msg("Found-block record failed")
	}
	c.met.IncBlockFound()
	c.foundStream.Publish(fb)
	c.log.Info().Uint64("height", ev.Height).Str("hash", ev.Hash).Msg("Block accepted")
}

// autoRepair launches one repair in response to corruption markers.
// Further corruption lines are ignored while it runs.
func (c *Console) autoRepair() {
	if !c.repairing.CompareAndSwap(false, true) {
		return
	}
	c.log.Warn().Msg("Database corruption detected, repairing")
	go func() {
		defer c.repairing.Store(false)
		if err := c.Repair(); err != nil {
			c.log.Error().Err(err).Msg("Automatic repair failed")
		}
	}()
}

func (c *Console) stateLoop(states <-chan supervisor.StateEvent, cancel func()) {
	defer c.wg.Done()
	defer cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-states:
			if !ok {
				return
			}
			c.handleState(ev)
		}
	}
}

func (c *Console) handleState(ev supervisor.StateEvent) {
	c.met.SetNodeRunning(ev.Running)

	switch ev.Phase {
	case "starting":
		c.mu.Lock()
		c.phase = parse.PhaseStarting
		c.meta.Reset()
		c.mu.Unlock()
	case "running":
		c.mu.Lock()
		chainID := c.chain.ID
		c.mu.Unlock()
		run, err := c.hist.StartRun(chainID)
		if err != nil {
			c.log.Warn().Err(err).Msg("Run history open failed")
			return
		}
		c.mu.Lock()
		c.run = run
		c.mu.Unlock()
	case "stopped":
		c.mu.Lock()
		c.phase = parse.PhaseStopped
		run := c.run
		c.run = nil
		c.mu.Unlock()
		if run != nil {
			if err := c.hist.FinishRun(run); err != nil {
				c.log.Warn().Err(err).Msg("Run history close failed")
			}
		}
	}
}
