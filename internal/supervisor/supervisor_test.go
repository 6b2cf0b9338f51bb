package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Quantus-Network/miner-console/internal/log"
	"github.com/Quantus-Network/miner-console/internal/parse"
)

func TestMain(m *testing.M) {
	log.Init("error", false, "")
	os.Exit(m.Run())
}

// writeScript drops a fake node script into a temp dir and returns its
// path. Tests that spawn processes need a POSIX shell.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake node scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fakenode.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitPhase(t *testing.T, ch <-chan StateEvent, phase string) StateEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("state stream closed while waiting for %q", phase)
			}
			if ev.Phase == phase {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q state within 3s", phase)
		}
	}
}

func collectLines(t *testing.T, ch <-chan Line, n int) []Line {
	t.Helper()
	var got []Line
	deadline := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case ln, ok := <-ch:
			if !ok {
				t.Fatalf("line stream closed after %d lines, want %d", len(got), n)
			}
			got = append(got, ln)
		case <-deadline:
			t.Fatalf("saw %d lines within 3s, want %d", len(got), n)
		}
	}
	return got
}

// ── Lifecycle ──

func TestSupervisor_CapturesOutput(t *testing.T) {
	script := writeScript(t, `echo "hello from node"
echo "oops" 1>&2
while true; do sleep 0.1; done`)
	sup := New("", 200*time.Millisecond)
	lines, cancel := sup.Lines()
	defer cancel()
	t.Cleanup(func() { sup.Stop() })

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	bySource := map[string]string{}
	for _, ln := range collectLines(t, lines, 2) {
		bySource[ln.Source] = ln.Text
	}
	if bySource["stdout"] != "hello from node" {
		t.Errorf("stdout line = %q, want %q", bySource["stdout"], "hello from node")
	}
	if bySource["stderr"] != "oops" {
		t.Errorf("stderr line = %q, want %q", bySource["stderr"], "oops")
	}
}

func TestSupervisor_StartWhileRunning(t *testing.T) {
	script := writeScript(t, `while true; do sleep 0.1; done`)
	sup := New("", 200*time.Millisecond)
	t.Cleanup(func() { sup.Stop() })

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestSupervisor_StopIdempotent(t *testing.T) {
	sup := New("", time.Second)
	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop before any Start error: %v", err)
	}

	script := writeScript(t, `while true; do sleep 0.1; done`)
	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
	if sup.State() != StateStopped {
		t.Errorf("State = %v, want %v", sup.State(), StateStopped)
	}
}

func TestSupervisor_StoppedEventBeforeTeardown(t *testing.T) {
	script := writeScript(t, `trap '' INT
echo ready
while true; do sleep 0.1; done`)
	sup := New("", 400*time.Millisecond)
	states, cancel := sup.States()
	defer cancel()

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitPhase(t, states, "starting")
	waitPhase(t, states, "running")

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	ev := waitPhase(t, states, "stopped")
	if ev.Running {
		t.Error("stopped event has Running = true")
	}
	// The script ignores SIGINT, so Stop is still inside its grace
	// period when the event arrives.
	select {
	case <-done:
		t.Error("Stop returned before the stopped event was observable")
	default:
	}
	<-done
	if sup.State() != StateStopped {
		t.Errorf("State = %v, want %v", sup.State(), StateStopped)
	}
}

func TestSupervisor_CrashPublishesStopped(t *testing.T) {
	script := writeScript(t, `echo up
exit 3`)
	sup := New("", time.Second)
	states, cancel := sup.States()
	defer cancel()

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitPhase(t, states, "running")
	waitPhase(t, states, "stopped")
	if sup.Running() {
		t.Error("Running() = true after crash")
	}
}

func TestSupervisor_StartSpawnFailure(t *testing.T) {
	sup := New("", time.Second)
	states, cancel := sup.States()
	defer cancel()

	err := sup.Start(RunArgs{Chain: "resonance", Binary: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("Start succeeded with a missing binary")
	}
	waitPhase(t, states, "starting")
	waitPhase(t, states, "stopped")
	if _, ok := sup.LastArgs(); ok {
		t.Error("LastArgs set after a failed start")
	}
}

// ── Restart family ──

func TestSupervisor_RestartSpawnsNewProcess(t *testing.T) {
	script := writeScript(t, `echo "pid=$$"
while true; do sleep 0.1; done`)
	sup := New("", 200*time.Millisecond)
	lines, cancel := sup.Lines()
	defer cancel()
	t.Cleanup(func() { sup.Stop() })

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	first := collectLines(t, lines, 1)[0].Text

	if err := sup.Restart(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Restart error: %v", err)
	}
	second := collectLines(t, lines, 1)[0].Text
	if first == second {
		t.Errorf("restart reused process, pid line %q both times", first)
	}
	if !sup.Running() {
		t.Error("node not running after restart")
	}
}

func TestSupervisor_RestartInFlight(t *testing.T) {
	script := writeScript(t, `trap '' INT
while true; do sleep 0.1; done`)
	sup := New("", 500*time.Millisecond)
	t.Cleanup(func() { sup.Stop() })

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- sup.Restart(RunArgs{Chain: "resonance", Binary: script})
	}()
	time.Sleep(100 * time.Millisecond)

	if err := sup.Restart(RunArgs{Chain: "resonance", Binary: script}); !errors.Is(err, ErrRestartInFlight) {
		t.Fatalf("concurrent Restart error = %v, want ErrRestartInFlight", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("first Restart error: %v", err)
	}
	if !sup.Running() {
		t.Error("node not running after restart")
	}
}

func TestSupervisor_RepairRemovesChainDB(t *testing.T) {
	script := writeScript(t, `while true; do sleep 0.1; done`)
	dbDir := filepath.Join(t.TempDir(), "chains", "resonance", "db")
	if err := os.MkdirAll(filepath.Join(dbDir, "full"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dbDir, "full", "CURRENT"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed db: %v", err)
	}

	sup := New("", 200*time.Millisecond)
	t.Cleanup(func() { sup.Stop() })
	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	if err := sup.Repair(dbDir); err != nil {
		t.Fatalf("Repair error: %v", err)
	}
	if _, err := os.Stat(dbDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("chain db dir still present after repair, stat err = %v", err)
	}
	if !sup.Running() {
		t.Error("node not running after repair")
	}

	// Repairing an already clean data dir succeeds as well.
	if err := sup.Repair(dbDir); err != nil {
		t.Fatalf("second Repair error: %v", err)
	}
}

func TestSupervisor_RepairNeverStarted(t *testing.T) {
	sup := New("", time.Second)
	if err := sup.Repair(t.TempDir()); !errors.Is(err, ErrNeverStarted) {
		t.Fatalf("Repair error = %v, want ErrNeverStarted", err)
	}
}

func TestSupervisor_UnlockRemovesLockFile(t *testing.T) {
	script := writeScript(t, `while true; do sleep 0.1; done`)
	lock := filepath.Join(t.TempDir(), "LOCK")
	if err := os.WriteFile(lock, nil, 0o644); err != nil {
		t.Fatalf("seed lock file: %v", err)
	}

	sup := New("", 200*time.Millisecond)
	t.Cleanup(func() { sup.Stop() })
	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	if err := sup.Unlock(lock); err != nil {
		t.Fatalf("Unlock error: %v", err)
	}
	if _, err := os.Stat(lock); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present after unlock, stat err = %v", err)
	}
	if !sup.Running() {
		t.Error("node not running after unlock")
	}

	// An absent lock file is not an error.
	if err := sup.Unlock(lock); err != nil {
		t.Fatalf("second Unlock error: %v", err)
	}
}

// ── Per-run log file ──

func TestSupervisor_PerRunLogFile(t *testing.T) {
	script := writeScript(t, `echo "banner line"
echo "warn line" 1>&2
while true; do sleep 0.1; done`)
	logsDir := t.TempDir()
	sup := New(logsDir, 200*time.Millisecond)
	lines, cancel := sup.Lines()
	defer cancel()
	t.Cleanup(func() { sup.Stop() })

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script, LogToFile: true}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	collectLines(t, lines, 2)

	path := sup.LastLogFile()
	if path == "" {
		t.Fatal("LastLogFile empty with LogToFile set")
	}
	if base := filepath.Base(path); !strings.HasPrefix(base, "quantus-node-") || !strings.HasSuffix(base, ".log") {
		t.Errorf("run log name = %q, want quantus-node-<pid>-<ts>.log", base)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(data), "banner line") {
		t.Errorf("run log missing stdout line:\n%s", data)
	}
	if !strings.Contains(string(data), "[err] warn line") {
		t.Errorf("run log missing tagged stderr line:\n%s", data)
	}
}

func TestSupervisor_NoLogFileWhenDisabled(t *testing.T) {
	script := writeScript(t, `echo hi
while true; do sleep 0.1; done`)
	sup := New(t.TempDir(), 200*time.Millisecond)
	t.Cleanup(func() { sup.Stop() })

	if err := sup.Start(RunArgs{Chain: "resonance", Binary: script}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if path := sup.LastLogFile(); path != "" {
		t.Errorf("LastLogFile = %q, want empty with LogToFile off", path)
	}
}

// ── RunArgs ──

func TestRunArgs_Argv(t *testing.T) {
	a := RunArgs{
		Chain:          "resonance",
		RewardsAddress: "qzkAbC123",
		Binary:         "/usr/local/bin/quantus-node",
		BasePath:       "/data/quantus-node",
		NodeKeyFile:    "/data/quantus-node/chains/resonance/network/secret_dilithium",
		ExtraArgs:      []string{"--validator"},
	}
	want := []string{
		"--chain", "resonance",
		"--base-path", "/data/quantus-node",
		"--rewards-address", "qzkAbC123",
		"--node-key-file", "/data/quantus-node/chains/resonance/network/secret_dilithium",
		"--validator",
	}
	if got := a.Argv(); !reflect.DeepEqual(got, want) {
		t.Errorf("Argv() = %v, want %v", got, want)
	}

	minimal := RunArgs{Chain: "heisenberg"}
	if got := minimal.Argv(); !reflect.DeepEqual(got, []string{"--chain", "heisenberg"}) {
		t.Errorf("minimal Argv() = %v, want [--chain heisenberg]", got)
	}
}

func TestRunArgs_WithSafeFlag(t *testing.T) {
	a := RunArgs{Chain: "resonance", ExtraArgs: []string{"--validator"}}

	on := a.WithSafeFlag(true)
	if !on.SafeFlagSet() {
		t.Fatal("safe flag missing after enable")
	}
	twice := on.WithSafeFlag(true)
	count := 0
	for _, f := range twice.ExtraArgs {
		if f == SafeFlag {
			count++
		}
	}
	if count != 1 {
		t.Errorf("safe flag count after double enable = %d, want 1", count)
	}

	off := twice.WithSafeFlag(false)
	if off.SafeFlagSet() {
		t.Error("safe flag still present after disable")
	}
	if !reflect.DeepEqual(off.ExtraArgs, []string{"--validator"}) {
		t.Errorf("extra args after disable = %v, want [--validator]", off.ExtraArgs)
	}
	if a.SafeFlagSet() {
		t.Error("original args mutated")
	}
}

// ── Node key ──

func TestEnsureNodeKey(t *testing.T) {
	gen := writeScript(t, `echo "generated" >> "$4"`)
	keyFile := filepath.Join(t.TempDir(), "network", "secret_dilithium")

	if err := EnsureNodeKey(gen, keyFile); err != nil {
		t.Fatalf("EnsureNodeKey error: %v", err)
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}

	// A second call must leave the existing key alone.
	if err := EnsureNodeKey(gen, keyFile); err != nil {
		t.Fatalf("second EnsureNodeKey error: %v", err)
	}
	again, err := os.ReadFile(keyFile)
	if err != nil {
		t.Fatalf("key file gone after second call: %v", err)
	}
	if string(again) != string(data) {
		t.Error("existing node key was regenerated")
	}
}

func TestEnsureNodeKey_GeneratorFails(t *testing.T) {
	fail := writeScript(t, `echo "boom" 1>&2
exit 1`)
	err := EnsureNodeKey(fail, filepath.Join(t.TempDir(), "secret"))
	if err == nil {
		t.Fatal("EnsureNodeKey succeeded with a failing generator")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not include generator output", err)
	}
}

func TestEnsureNodeKey_NoFileProduced(t *testing.T) {
	noop := writeScript(t, `exit 0`)
	if err := EnsureNodeKey(noop, filepath.Join(t.TempDir(), "secret")); err == nil {
		t.Fatal("EnsureNodeKey succeeded though no key file was produced")
	}
}

// ── External miner ──

func TestExtMiner_EventsFromOutput(t *testing.T) {
	script := writeScript(t, `echo "connected to node at 127.0.0.1:9944"
echo "hashrate: 1250.5 H/s"
echo "found block height=9281 hash=0xdeadbeefcafe"
while true; do sleep 0.1; done`)
	m := NewExtMiner()
	events, cancel := m.Events()
	defer cancel()
	t.Cleanup(func() { m.Stop() })

	if err := m.Start(ExtMinerArgs{Binary: script, Cores: 4, Port: 9833}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := m.Start(ExtMinerArgs{Binary: script}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}

	seen := map[string]parse.MinerEvent{}
	deadline := time.After(3 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-events:
			seen[ev.Type] = ev
		case <-deadline:
			t.Fatalf("saw %d event types within 3s, want 3", len(seen))
		}
	}
	if _, ok := seen[parse.MinerConnected]; !ok {
		t.Error("no connected event")
	}
	if hr := seen[parse.MinerHashrate]; hr.HPS != 1250.5 {
		t.Errorf("hashrate = %v, want 1250.5", hr.HPS)
	}
	fb := seen[parse.MinerFoundBlock]
	if fb.Height != 9281 || fb.Hash != "0xdeadbeefcafe" {
		t.Errorf("found block = %+v, want height 9281 hash 0xdeadbeefcafe", fb)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if m.Running() {
		t.Error("miner still running after Stop")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
}

func TestExtMinerArgs_Argv(t *testing.T) {
	a := ExtMinerArgs{Binary: "/usr/bin/quantus-miner", Cores: 8, Port: 9833}
	want := []string{"--port", "9833", "--cores", "8"}
	if got := a.Argv(); !reflect.DeepEqual(got, want) {
		t.Errorf("Argv() = %v, want %v", got, want)
	}
	if got := (ExtMinerArgs{}).Argv(); len(got) != 0 {
		t.Errorf("empty Argv() = %v, want none", got)
	}
}
