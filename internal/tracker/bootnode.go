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

const fallbackQueryTimeout = 10 * time.Second

// Bootnode follows a remote reference peer's new-head stream for the
// "highest known" height. The peer may sit silent for minutes while
// the connection stays healthy; silence past the grace window triggers
// a fallback height query, never a reconnect.
type Bootnode struct {
	dial  DialFunc
	grace time.Duration
	poll  time.Duration
	src   *Source

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewBootnode creates a bootnode tracker. grace is how long the head
// stream may stay silent before the tracker queries for an estimate.
func NewBootnode(dial DialFunc, grace time.Duration) *Bootnode {
	poll := grace / 4
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	if poll > 10*time.Second {
		poll = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bootnode{
		dial:   dial,
		grace:  grace,
		poll:   poll,
		src:    NewSource("bootnode"),
		ctx:    ctx,
		cancel: cancel,
		log:    log.Tracker.With().Str("source", "bootnode").Logger(),
	}
}

// Start launches the tracker loop.
func (t *Bootnode) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run()
	}()
}

// Stop terminates the tracker and waits for its loop to exit.
func (t *Bootnode) Stop() {
	t.cancel()
	t.wg.Wait()
}

// Source returns the head state cell this tracker writes.
func (t *Bootnode) Source() *Source { return t.src }

func (t *Bootnode) run() {
	backoff := retry.WithCappedDuration(30*time.Second, retry.NewFibonacci(time.Second))
	_ = retry.Do(t.ctx, backoff, func(ctx context.Context) error {
		err := t.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("session ended")
		}
		t.log.Debug().Err(err).Msg("Bootnode session ended, reconnecting")
		return retry.RetryableError(err)
	})
}

// session holds one connection from dial to failure. Returns nil only
// on cancellation. Only transport errors end a session; a silent head
// stream does not.
func (t *Bootnode) session(ctx context.Context) error {
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
	t.log.Info().Msg("Connected to bootnode")

	ticker := time.NewTicker(t.poll)
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
			if t.src.View().StaleFor(time.Now()) < t.grace {
				continue
			}
			t.fallbackQuery(ctx, conn)
		}
	}
}

// fallbackQuery refreshes the height estimate after the head stream has
// been silent past the grace window. The sync-state query is preferred;
// the finalized-head path is the last resort, and its number is still
// surfaced as "highest", never as "finalized". Finality trails the best
// block by a wide margin on this network.
func (t *Bootnode) fallbackQuery(ctx context.Context, conn Caller) {
	qctx, cancel := context.WithTimeout(ctx, fallbackQueryTimeout)
	defer cancel()

	if ss, err := conn.SyncState(qctx); err == nil && ss.HighestBlock > 0 {
		t.src.RecordEstimate(uint64(ss.HighestBlock), time.Now())
		t.log.Debug().Uint64("highest", uint64(ss.HighestBlock)).Msg("Height estimate from sync state")
		return
	}

	hash, err := conn.FinalizedHead(qctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("Fallback height query failed")
		return
	}
	header, err := conn.HeaderByHash(qctx, hash)
	if err != nil {
		t.log.Debug().Err(err).Msg("Fallback header lookup failed")
		return
	}
	t.src.RecordEstimate(uint64(header.Number), time.Now())
	t.log.Debug().Uint64("highest", uint64(header.Number)).Msg("Height estimate from finalized head")
}
