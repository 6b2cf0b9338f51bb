package tracker

import (
	"testing"
	"time"

	"github.com/Quantus-Network/miner-console/internal/rpcclient"
)

func TestBootnode_RecordsHeads(t *testing.T) {
	fake := newFakeCaller()
	dial, _ := fakeDialer(fake)
	bt := NewBootnode(dial, time.Minute)
	bt.Start()
	defer bt.Stop()

	fake.pushHead(100)
	fake.pushHead(101)

	waitFor(t, 2*time.Second, func() bool {
		v := bt.Source().View()
		return v.HasHeight && v.Height == 101
	}, "heads not recorded")

	if v := bt.Source().View(); !v.Connected {
		t.Error("Connected = false with a live session")
	}
}

func TestBootnode_FallbackToSyncState(t *testing.T) {
	fake := newFakeCaller()
	fake.setSyncState(rpcclient.SyncState{HighestBlock: 9000}, nil)
	dial, _ := fakeDialer(fake)

	bt := NewBootnode(dial, 60*time.Millisecond)
	bt.Start()
	defer bt.Stop()

	// No heads arrive. After the grace window the sync-state estimate
	// must surface as highest.
	waitFor(t, 2*time.Second, func() bool {
		v := bt.Source().View()
		return v.HasHeight && v.Height == 9000
	}, "sync-state fallback never delivered highest=9000")

	// A successful fallback counts as an update, so staleness restarts.
	if stale := bt.Source().View().StaleFor(time.Now()); stale > time.Second {
		t.Errorf("staleness = %v after fallback, want near zero", stale)
	}
}

func TestBootnode_FallbackToFinalizedHead(t *testing.T) {
	fake := newFakeCaller()
	fake.setSyncState(rpcclient.SyncState{}, nil) // highest absent
	fake.setFinalized("0xfeed", rpcclient.Header{Number: 8000})
	dial, _ := fakeDialer(fake)

	bt := NewBootnode(dial, 60*time.Millisecond)
	bt.Start()
	defer bt.Stop()

	waitFor(t, 2*time.Second, func() bool {
		v := bt.Source().View()
		return v.HasHeight && v.Height == 8000
	}, "finalized-head fallback never delivered a height")

	if fake.syncStateCalls() == 0 {
		t.Error("sync state should be tried before the finalized-head path")
	}
}

func TestBootnode_FallbackNeverLowersStreamHeight(t *testing.T) {
	fake := newFakeCaller()
	fake.setSyncState(rpcclient.SyncState{HighestBlock: 9000}, nil)
	dial, _ := fakeDialer(fake)

	bt := NewBootnode(dial, 60*time.Millisecond)
	bt.Start()
	defer bt.Stop()

	fake.pushHead(9500)
	waitFor(t, 2*time.Second, func() bool {
		return bt.Source().View().Height == 9500
	}, "head not recorded")

	// Wait for at least one fallback query after the grace window.
	waitFor(t, 2*time.Second, func() bool {
		return fake.syncStateCalls() > 0
	}, "fallback never ran")

	if v := bt.Source().View(); v.Height != 9500 {
		t.Errorf("height = %d, want 9500 (stale estimate must not lower)", v.Height)
	}
}

func TestBootnode_ReconnectsAfterConnectionLoss(t *testing.T) {
	fake1 := newFakeCaller()
	fake2 := newFakeCaller()
	dial, dials := fakeDialer(fake1, fake2)

	bt := NewBootnode(dial, time.Minute)
	bt.Start()
	defer bt.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return bt.Source().View().Connected
	}, "never connected")

	fake1.Close()

	waitFor(t, 5*time.Second, func() bool {
		return dialCount(dials) >= 2
	}, "no reconnect after connection loss")

	fake2.pushHead(77)
	waitFor(t, 2*time.Second, func() bool {
		return bt.Source().View().Height == 77
	}, "head not recorded on the new connection")
}
