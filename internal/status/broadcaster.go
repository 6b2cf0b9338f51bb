// Package status aggregates the trackers, the safe-mode controller and
// the log classifier into periodic snapshots for the presentation
// layer.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/Quantus-Network/miner-console/internal/event"
	"github.com/Quantus-Network/miner-console/internal/log"
)

// Snapshot is the full aggregated status at one instant. Best and
// Highest are nil until the matching source has reported a height.
type Snapshot struct {
	Peers             int       `json:"peers"`
	Best              *uint64   `json:"best"`
	Highest           *uint64   `json:"highest"`
	IsSyncing         bool      `json:"is_syncing"`
	SafeMode          bool      `json:"safe_mode"`
	BootnodeConnected bool      `json:"bootnode_connected"`
	BootnodeStaleSecs uint64    `json:"bootnode_stale_secs"`
	Phase             string    `json:"phase"`
	At                time.Time `json:"at"`
}

// Collector produces one fresh snapshot from live component state.
type Collector func() Snapshot

// Broadcaster emits a snapshot every period, unconditionally. Consumers
// may treat "no snapshot for a while" as a liveness signal, so
// unchanged snapshots are never suppressed.
type Broadcaster struct {
	period  time.Duration
	collect Collector
	stream  *event.Stream[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster creates a broadcaster with the given emission period.
func NewBroadcaster(period time.Duration, collect Collector) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		period:  period,
		collect: collect,
		stream:  event.NewStream[Snapshot](16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe returns a channel of snapshots and a cancel function.
func (b *Broadcaster) Subscribe() (<-chan Snapshot, func()) {
	return b.stream.Subscribe()
}

// Current composes a snapshot on demand, outside the emission cadence.
func (b *Broadcaster) Current() Snapshot {
	return b.collect()
}

// Start launches the emission loop. The first snapshot goes out
// immediately, then one per period.
func (b *Broadcaster) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		log.Status.Debug().Dur("period", b.period).Msg("Status broadcaster started")

		b.stream.Publish(b.collect())
		ticker := time.NewTicker(b.period)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				b.stream.Publish(b.collect())
			}
		}
	}()
}

// Stop terminates the emission loop and waits for it to exit.
func (b *Broadcaster) Stop() {
	b.cancel()
	b.wg.Wait()
}
