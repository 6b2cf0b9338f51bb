// Package tracker follows chain heads from two places at once: the
// supervised node's own RPC endpoint and a remote bootnode used as a
// network-wide progress reference.
package tracker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantus-Network/miner-console/internal/log"
)

// View is a read-only copy of a head source's state.
type View struct {
	Height     uint64
	HasHeight  bool
	LastUpdate time.Time
	Connected  bool
}

// StaleFor returns how long the source has gone without an update.
func (v View) StaleFor(now time.Time) time.Duration {
	if v.LastUpdate.IsZero() {
		return 0
	}
	d := now.Sub(v.LastUpdate)
	if d < 0 {
		d = 0
	}
	return d
}

// Source is the state cell for one head source. Exactly one tracker
// writes it; everyone else reads through View.
type Source struct {
	mu         sync.RWMutex
	height     uint64
	hasHeight  bool
	lastUpdate time.Time
	connected  bool
	log        zerolog.Logger
}

// NewSource creates a Source named for logging.
func NewSource(name string) *Source {
	return &Source{
		lastUpdate: time.Now(),
		log:        log.Tracker.With().Str("source", name).Logger(),
	}
}

// Record stores a head announced by the source's own stream. A height
// below the current one is a reorg: logged, then accepted as the new
// tip. Equal heights still refresh the update time.
func (s *Source) Record(height uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasHeight && height < s.height {
		s.log.Warn().
			Uint64("old", s.height).
			Uint64("new", height).
			Msg("Chain reorg, head moved backwards")
	}
	s.height = height
	s.hasHeight = true
	s.lastUpdate = at
}

// RecordEstimate stores a height obtained from a fallback query. Unlike
// Record it never lowers the height, since estimates can lag the
// stream. It always refreshes the update time: the query itself
// succeeded.
func (s *Source) RecordEstimate(height uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasHeight || height >= s.height {
		s.height = height
		s.hasHeight = true
	}
	s.lastUpdate = at
}

// SetConnected flags whether the owning tracker currently holds a live
// connection.
func (s *Source) SetConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Reset clears the height for a fresh supervised run. The connection
// flag is left alone; trackers outlive node restarts.
func (s *Source) Reset() {
	s.mu.Lock()
	s.height = 0
	s.hasHeight = false
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

// View returns a copy of the current state.
func (s *Source) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Height:     s.height,
		HasHeight:  s.hasHeight,
		LastUpdate: s.lastUpdate,
		Connected:  s.connected,
	}
}
