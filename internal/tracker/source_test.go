package tracker

import (
	"testing"
	"time"
)

func TestSource_RecordMonotonic(t *testing.T) {
	s := NewSource("test")
	now := time.Now()

	s.Record(100, now)
	s.Record(110, now.Add(time.Second))

	v := s.View()
	if !v.HasHeight || v.Height != 110 {
		t.Fatalf("height = %d (has=%v), want 110", v.Height, v.HasHeight)
	}
}

func TestSource_RecordReorgAccepted(t *testing.T) {
	s := NewSource("test")
	now := time.Now()

	s.Record(110, now)
	// A lower head from the stream is a reorg: accepted, not ignored.
	s.Record(90, now.Add(time.Second))

	v := s.View()
	if v.Height != 90 {
		t.Errorf("height after reorg = %d, want 90", v.Height)
	}
	if !v.LastUpdate.Equal(now.Add(time.Second)) {
		t.Errorf("LastUpdate not refreshed on reorg")
	}
}

func TestSource_RecordTieRefreshesTimestamp(t *testing.T) {
	s := NewSource("test")
	t0 := time.Now()
	t1 := t0.Add(3 * time.Second)

	s.Record(100, t0)
	s.Record(100, t1)

	v := s.View()
	if v.Height != 100 {
		t.Fatalf("height = %d, want 100", v.Height)
	}
	if !v.LastUpdate.Equal(t1) {
		t.Errorf("LastUpdate = %v, want %v (ties favor the newest)", v.LastUpdate, t1)
	}
}

func TestSource_RecordEstimateNeverLowers(t *testing.T) {
	s := NewSource("test")
	t0 := time.Now()
	t1 := t0.Add(time.Minute)

	s.Record(9500, t0)
	s.RecordEstimate(9000, t1)

	v := s.View()
	if v.Height != 9500 {
		t.Errorf("height = %d, want 9500 (estimate must not lower)", v.Height)
	}
	if !v.LastUpdate.Equal(t1) {
		t.Errorf("LastUpdate = %v, want %v (successful query refreshes)", v.LastUpdate, t1)
	}
}

func TestSource_RecordEstimateRaises(t *testing.T) {
	s := NewSource("test")
	now := time.Now()

	s.RecordEstimate(9000, now)
	v := s.View()
	if !v.HasHeight || v.Height != 9000 {
		t.Errorf("height = %d (has=%v), want 9000", v.Height, v.HasHeight)
	}

	s.RecordEstimate(9100, now.Add(time.Second))
	if v := s.View(); v.Height != 9100 {
		t.Errorf("height = %d, want 9100", v.Height)
	}
}

func TestSource_Reset(t *testing.T) {
	s := NewSource("test")
	s.Record(500, time.Now())
	s.SetConnected(true)

	s.Reset()

	v := s.View()
	if v.HasHeight {
		t.Error("HasHeight = true after reset")
	}
	if v.Height != 0 {
		t.Errorf("height = %d after reset, want 0", v.Height)
	}
	if !v.Connected {
		t.Error("reset must not change the connection flag")
	}
}

func TestView_StaleFor(t *testing.T) {
	now := time.Now()
	v := View{LastUpdate: now.Add(-7 * time.Second)}
	if got := v.StaleFor(now); got != 7*time.Second {
		t.Errorf("StaleFor = %v, want 7s", got)
	}

	// Future timestamps clamp to zero.
	v = View{LastUpdate: now.Add(time.Second)}
	if got := v.StaleFor(now); got != 0 {
		t.Errorf("StaleFor with future update = %v, want 0", got)
	}

	// Zero timestamp reports no staleness rather than decades.
	v = View{}
	if got := v.StaleFor(now); got != 0 {
		t.Errorf("StaleFor with zero update = %v, want 0", got)
	}
}
