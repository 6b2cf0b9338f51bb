package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/Quantus-Network/miner-console/internal/log"
)

const (
	dialTimeout        = 10 * time.Second
	healthQueryTimeout = 5 * time.Second
)

// Local follows the supervised node's own RPC endpoint: best height
// from the new-head stream plus peer count and syncing flag from a
// periodic health query. The endpoint is same-host, so reconnects
// retry forever with a short capped backoff.
type Local struct {
	dial        DialFunc
	healthEvery time.Duration
	src         *Source

	mu      sync.RWMutex
	peers   int
	syncing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewLocal creates a local tracker. healthEvery is the period of the
// peers/syncing poll.
func NewLocal(dial DialFunc, healthEvery time.Duration) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		dial:        dial,
		healthEvery: healthEvery,
		src:         NewSource("local"),
		ctx:         ctx,
		cancel:      cancel,
		log:         log.Tracker.With().Str("source", "local").Logger(),
	}
}

// Start launches the tracker loop.
func (t *Local) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run()
	}()
}

// Stop terminates the tracker and waits for its loop to exit.
func (t *Local) Stop() {
	t.cancel()
	t.wg.Wait()
}

// Source returns the head state cell this tracker writes.
func (t *Local) Source() *Source { return t.src }

// Health returns the latest peer count and syncing flag.
func (t *Local) Health() (peers int, syncing bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers, t.syncing
}

func (t *Local) run() {
	backoff := retry.WithCappedDuration(10*time.Second, retry.NewFibonacci(500*time.Millisecond))
	_ = retry.Do(t.ctx, backoff, func(ctx context.Context) error {
		err := t.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("session ended")
		}
		t.log.Debug().Err(err).Msg("Local RPC session ended, reconnecting")
		return retry.RetryableError(err)
	})
}

// session holds one connection from dial to failure. Returns nil only
// on cancellation.
func (t *Local) session(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := t.dial(dctx)
	cancel()
	if err != nil {
		t.src.SetConnected(false)
		return err
	}
	defer conn.Close()

	sub, err := conn.SubscribeNewHeads(ctx)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	t.src.SetConnected(true)
	defer t.src.SetConnected(false)
	t.log.Info().Msg("Connected to local node")

	ticker := time.NewTicker(t.healthEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return fmt.Errorf("connection lost: %w", conn.Err())
		case h, ok := <-sub.C:
			if !ok {
				return errors.New("head stream closed")
			}
			t.src.Record(uint64(h.Number), time.Now())
		case <-ticker.C:
			t.pollHealth(ctx, conn)
		}
	}
}

func (t *Local) pollHealth(ctx context.Context, conn Caller) {
	hctx, cancel := context.WithTimeout(ctx, healthQueryTimeout)
	defer cancel()
	h, err := conn.Health(hctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("Health query failed")
		return
	}
	t.mu.Lock()
	t.peers, t.syncing = h.Peers, h.IsSyncing
	t.mu.Unlock()
}
