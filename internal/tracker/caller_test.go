package tracker

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Quantus-Network/miner-console/internal/log"
	"github.com/Quantus-Network/miner-console/internal/rpcclient"
)

func TestMain(m *testing.M) {
	log.Init("error", false, "")
	os.Exit(m.Run())
}

// fakeCaller is a scriptable Caller for tracker tests.
type fakeCaller struct {
	heads chan rpcclient.Header
	done  chan struct{}

	mu        sync.Mutex
	health    rpcclient.Health
	healthErr error
	syncState rpcclient.SyncState
	syncErr   error
	finalized string
	finalErr  error
	headers   map[string]rpcclient.Header
	syncCalls int
	closed    bool
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		heads:   make(chan rpcclient.Header, 16),
		done:    make(chan struct{}),
		headers: make(map[string]rpcclient.Header),
	}
}

func (f *fakeCaller) pushHead(n uint64) {
	f.heads <- rpcclient.Header{Number: rpcclient.HexUint(n)}
}

func (f *fakeCaller) setHealth(h rpcclient.Health) {
	f.mu.Lock()
	f.health = h
	f.mu.Unlock()
}

func (f *fakeCaller) setSyncState(s rpcclient.SyncState, err error) {
	f.mu.Lock()
	f.syncState, f.syncErr = s, err
	f.mu.Unlock()
}

func (f *fakeCaller) setFinalized(hash string, h rpcclient.Header) {
	f.mu.Lock()
	f.finalized = hash
	f.headers[hash] = h
	f.mu.Unlock()
}

func (f *fakeCaller) syncStateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

func (f *fakeCaller) SubscribeNewHeads(ctx context.Context) (*rpcclient.HeadSubscription, error) {
	return &rpcclient.HeadSubscription{C: f.heads}, nil
}

func (f *fakeCaller) Health(ctx context.Context) (rpcclient.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health, f.healthErr
}

func (f *fakeCaller) SyncState(ctx context.Context) (rpcclient.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return f.syncState, f.syncErr
}

func (f *fakeCaller) FinalizedHead(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalErr != nil {
		return "", f.finalErr
	}
	if f.finalized == "" {
		return "", errors.New("no finalized head")
	}
	return f.finalized, nil
}

func (f *fakeCaller) HeaderByHash(ctx context.Context, hash string) (rpcclient.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.headers[hash]
	if !ok {
		return rpcclient.Header{}, errors.New("unknown block")
	}
	return h, nil
}

func (f *fakeCaller) Done() <-chan struct{} { return f.done }

func (f *fakeCaller) Err() error { return errors.New("connection closed") }

func (f *fakeCaller) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

// fakeDialer hands out the given fakes in order and counts dials.
func fakeDialer(fakes ...*fakeCaller) (DialFunc, *int32) {
	var n int32
	dial := func(ctx context.Context) (Caller, error) {
		i := atomic.AddInt32(&n, 1) - 1
		if int(i) < len(fakes) {
			return fakes[i], nil
		}
		return nil, errors.New("no more connections")
	}
	return dial, &n
}

func dialCount(n *int32) int { return int(atomic.LoadInt32(n)) }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
