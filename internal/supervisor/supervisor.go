// Package supervisor owns the external quantus-node process: spawning,
// the output line pump, ordered shutdown, and the serialized
// restart/repair/unlock recovery paths.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantus-Network/miner-console/internal/event"
	"github.com/Quantus-Network/miner-console/internal/log"
)

// ── Errors ──

var (
	// ErrAlreadyRunning is returned by Start while a node process is live.
	ErrAlreadyRunning = errors.New("node already running")

	// ErrRestartInFlight is returned when a restart, repair or unlock is
	// requested while another one is still in progress.
	ErrRestartInFlight = errors.New("restart already in flight")

	// ErrNeverStarted is returned by recovery paths that need the
	// arguments of a previous run when there has not been one.
	ErrNeverStarted = errors.New("node has not been started yet")
)

// DefaultStopGrace is how long a node gets to exit after SIGINT before
// it is killed. Database flushes can take a few seconds on slow disks.
const DefaultStopGrace = 10 * time.Second

// ── Process state ──

// ProcessState is the supervisor's view of the node process.
type ProcessState int

const (
	StateStopped ProcessState = iota
	StateStarting
	StateRunning
)

func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// StateEvent announces a process-state transition.
type StateEvent struct {
	Running bool   `json:"running"`
	Phase   string `json:"phase"`
}

// Line is one line of node output. Source is "stdout" or "stderr".
type Line struct {
	Source string    `json:"source"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// ── Supervisor ──

// Supervisor runs at most one node process at a time. State events and
// output lines fan out on broadcast streams; a stop always publishes
// its Stopped event before the process is signalled, so consumers see
// the transition ahead of any exit effects.
type Supervisor struct {
	logsDir   string
	stopGrace time.Duration

	states *event.Stream[StateEvent]
	lines  *event.Stream[Line]

	// opMu serializes Start/Stop bodies so a stop can never interleave
	// with a spawn in progress.
	opMu sync.Mutex

	// restartMu serializes the restart family. TryLock, not Lock: a
	// second caller is rejected immediately rather than queued, since
	// its stop/start pair would be stale by the time it ran.
	restartMu sync.Mutex

	mu       sync.Mutex
	state    ProcessState
	cmd      *exec.Cmd
	waitDone chan struct{}
	lastArgs RunArgs
	hasArgs  bool
	logPath  string

	log zerolog.Logger
}

// New creates a supervisor. logsDir may be empty to disable per-run
// log files regardless of RunArgs.LogToFile.
func New(logsDir string, stopGrace time.Duration) *Supervisor {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Supervisor{
		logsDir:   logsDir,
		stopGrace: stopGrace,
		states:    event.NewStream[StateEvent](16),
		lines:     event.NewStream[Line](256),
		log:       log.Supervisor,
	}
}

// States subscribes to process-state transitions.
func (s *Supervisor) States() (<-chan StateEvent, func()) {
	return s.states.Subscribe()
}

// Lines subscribes to node output lines.
func (s *Supervisor) Lines() (<-chan Line, func()) {
	return s.lines.Subscribe()
}

// State returns the current process state.
func (s *Supervisor) State() ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a node process is live.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// LastArgs returns a copy of the arguments of the most recent start.
func (s *Supervisor) LastArgs() (RunArgs, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastArgs.clone(), s.hasArgs
}

// LastLogFile returns the per-run log file path of the most recent
// start, or "" when file logging was off.
func (s *Supervisor) LastLogFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logPath
}

// Start spawns the node. It fails with ErrAlreadyRunning when a
// process is live.
func (s *Supervisor) Start(args RunArgs) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(args)
}

// Stop terminates the node. Stopping an already stopped node is a
// no-op. The Stopped state event is published before the process is
// signalled.
func (s *Supervisor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
	return nil
}

// Restart stops the node and starts it with args. Only one restart,
// repair or unlock runs at a time; concurrent callers get
// ErrRestartInFlight.
func (s *Supervisor) Restart(args RunArgs) error {
	if !s.restartMu.TryLock() {
		return ErrRestartInFlight
	}
	defer s.restartMu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
	return s.startLocked(args)
}

// Repair stops the node, deletes the chain database directory and
// starts again with the last-used arguments. Removing an absent
// directory succeeds, so repair on a clean data dir is safe.
func (s *Supervisor) Repair(chainDBDir string) error {
	if !s.restartMu.TryLock() {
		return ErrRestartInFlight
	}
	defer s.restartMu.Unlock()

	args, ok := s.LastArgs()
	if !ok {
		return ErrNeverStarted
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()

	s.log.Info().Str("dir", chainDBDir).Msg("Removing chain database")
	if err := os.RemoveAll(chainDBDir); err != nil {
		return fmt.Errorf("remove chain database: %w", err)
	}
	return s.startLocked(args)
}

// Unlock stops the node, removes the database lock file left behind by
// an unclean shutdown and starts again with the last-used arguments.
func (s *Supervisor) Unlock(lockFile string) error {
	if !s.restartMu.TryLock() {
		return ErrRestartInFlight
	}
	defer s.restartMu.Unlock()

	args, ok := s.LastArgs()
	if !ok {
		return ErrNeverStarted
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()

	s.log.Info().Str("file", lockFile).Msg("Removing database lock file")
	if err := os.Remove(lockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return s.startLocked(args)
}

// ── Lifecycle internals ──

func (s *Supervisor) startLocked(args RunArgs) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.mu.Unlock()
	s.publishState(StateStarting)

	cmd := exec.Command(args.Binary, args.Argv()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.startFailed(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.startFailed(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return s.startFailed(fmt.Errorf("spawn %s: %w", args.Binary, err))
	}

	var lf *os.File
	logPath := ""
	if args.LogToFile && s.logsDir != "" {
		logPath, lf = s.openRunLog(cmd.Process.Pid)
	}

	waitDone := make(chan struct{})
	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(stdout, "stdout", lf, &pumps)
	go s.pump(stderr, "stderr", lf, &pumps)
	go func() {
		// Drain both pipes before Wait; Wait closes them.
		pumps.Wait()
		err := cmd.Wait()
		if lf != nil {
			lf.Close()
		}
		close(waitDone)
		s.onExit(cmd, err)
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.waitDone = waitDone
	s.state = StateRunning
	s.lastArgs = args.clone()
	s.hasArgs = true
	s.logPath = logPath
	s.mu.Unlock()

	s.log.Info().
		Int("pid", cmd.Process.Pid).
		Str("chain", args.Chain).
		Bool("safe_mode", args.SafeFlagSet()).
		Msg("Node started")
	s.publishState(StateRunning)
	return nil
}

func (s *Supervisor) startFailed(err error) error {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.publishState(StateStopped)
	return err
}

func (s *Supervisor) stopLocked() {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	if cmd == nil {
		s.mu.Unlock()
		return
	}
	s.cmd = nil
	s.state = StateStopped
	s.mu.Unlock()

	// Consumers learn about the stop before the process does.
	s.publishState(StateStopped)
	s.log.Info().Int("pid", cmd.Process.Pid).Msg("Stopping node")
	s.terminate(cmd, waitDone)
}

// terminate asks the node to exit and kills it after the grace period.
func (s *Supervisor) terminate(cmd *exec.Cmd, waitDone chan struct{}) {
	if cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
	} else {
		cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-waitDone:
		return
	case <-time.After(s.stopGrace):
		s.log.Warn().Int("pid", cmd.Process.Pid).Msg("Node ignored SIGINT, killing")
	}
	cmd.Process.Kill()
	<-waitDone
}

// onExit runs after Wait returns. A process that is still registered
// here exited on its own.
func (s *Supervisor) onExit(cmd *exec.Cmd, err error) {
	s.mu.Lock()
	crashed := s.cmd == cmd
	if crashed {
		s.cmd = nil
		s.state = StateStopped
	}
	s.mu.Unlock()

	if crashed {
		s.log.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Node exited unexpectedly")
		s.publishState(StateStopped)
	}
}

func (s *Supervisor) publishState(st ProcessState) {
	s.states.Publish(StateEvent{Running: st == StateRunning, Phase: st.String()})
}

// ── Output pump ──

func (s *Supervisor) pump(r io.Reader, source string, lf *os.File, pumps *sync.WaitGroup) {
	defer pumps.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := sc.Text()
		if lf != nil {
			if source == "stderr" {
				fmt.Fprintln(lf, "[err] "+text)
			} else {
				fmt.Fprintln(lf, text)
			}
		}
		s.lines.Publish(Line{Source: source, Text: text, At: time.Now()})
	}
}

func (s *Supervisor) openRunLog(pid int) (string, *os.File) {
	if err := os.MkdirAll(s.logsDir, 0o755); err != nil {
		s.log.Warn().Err(err).Msg("Per-run log directory unavailable")
		return "", nil
	}
	name := fmt.Sprintf("quantus-node-%d-%s.log", pid, time.Now().Format("20060102-150405"))
	path := filepath.Join(s.logsDir, name)
	lf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Per-run log file unavailable")
		return "", nil
	}
	return path, lf
}
