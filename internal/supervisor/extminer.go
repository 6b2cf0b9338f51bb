package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantus-Network/miner-console/internal/event"
	"github.com/Quantus-Network/miner-console/internal/log"
	"github.com/Quantus-Network/miner-console/internal/parse"
)

// ExtMinerArgs configures the standalone external miner process.
type ExtMinerArgs struct {
	Binary string
	Cores  int
	Port   int
}

// Argv builds the miner's command line.
func (a ExtMinerArgs) Argv() []string {
	var argv []string
	if a.Port > 0 {
		argv = append(argv, "--port", strconv.Itoa(a.Port))
	}
	if a.Cores > 0 {
		argv = append(argv, "--cores", strconv.Itoa(a.Cores))
	}
	return argv
}

// ExtMiner supervises the optional standalone miner that offloads
// proof-of-work onto dedicated cores. Its lifecycle is much simpler
// than the node's: start, stop, no recovery paths.
type ExtMiner struct {
	events *event.Stream[parse.MinerEvent]
	lines  *event.Stream[Line]

	mu       sync.Mutex
	cmd      *exec.Cmd
	waitDone chan struct{}

	log zerolog.Logger
}

// NewExtMiner creates an external miner supervisor.
func NewExtMiner() *ExtMiner {
	return &ExtMiner{
		events: event.NewStream[parse.MinerEvent](32),
		lines:  event.NewStream[Line](256),
		log:    log.Supervisor.With().Str("proc", "quantus-miner").Logger(),
	}
}

// Events subscribes to classified miner events.
func (m *ExtMiner) Events() (<-chan parse.MinerEvent, func()) {
	return m.events.Subscribe()
}

// Lines subscribes to raw miner output lines.
func (m *ExtMiner) Lines() (<-chan Line, func()) {
	return m.lines.Subscribe()
}

// Running reports whether the miner process is live.
func (m *ExtMiner) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil
}

// Start spawns the miner. It fails with ErrAlreadyRunning when a miner
// process is live.
func (m *ExtMiner) Start(args ExtMinerArgs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return ErrAlreadyRunning
	}

	cmd := exec.Command(args.Binary, args.Argv()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", args.Binary, err)
	}

	waitDone := make(chan struct{})
	var pumps sync.WaitGroup
	pumps.Add(2)
	go m.pump(stdout, "stdout", &pumps)
	go m.pump(stderr, "stderr", &pumps)
	go func() {
		pumps.Wait()
		err := cmd.Wait()
		close(waitDone)
		m.onExit(cmd, err)
	}()

	m.cmd = cmd
	m.waitDone = waitDone
	m.log.Info().
		Int("pid", cmd.Process.Pid).
		Int("cores", args.Cores).
		Int("port", args.Port).
		Msg("External miner started")
	return nil
}

// Stop terminates the miner. Stopping an already stopped miner is a
// no-op.
func (m *ExtMiner) Stop() error {
	m.mu.Lock()
	cmd, waitDone := m.cmd, m.waitDone
	m.cmd = nil
	m.mu.Unlock()
	if cmd == nil {
		return nil
	}

	m.log.Info().Int("pid", cmd.Process.Pid).Msg("Stopping external miner")
	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
	} else {
		cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-waitDone:
		return nil
	case <-time.After(2 * time.Second):
	}
	cmd.Process.Kill()
	<-waitDone
	return nil
}

func (m *ExtMiner) pump(r io.Reader, source string, pumps *sync.WaitGroup) {
	defer pumps.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := sc.Text()
		m.lines.Publish(Line{Source: source, Text: text, At: time.Now()})
		if ev, ok := parse.ParseMinerEvent(text); ok {
			m.events.Publish(ev)
		}
	}
}

func (m *ExtMiner) onExit(cmd *exec.Cmd, err error) {
	m.mu.Lock()
	crashed := m.cmd == cmd
	if crashed {
		m.cmd = nil
	}
	m.mu.Unlock()
	if crashed {
		m.log.Warn().Err(err).Msg("External miner exited unexpectedly")
		m.events.Publish(parse.MinerEvent{Type: parse.MinerError, Message: "external miner exited"})
	}
}
