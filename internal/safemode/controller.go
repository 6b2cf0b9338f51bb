// Package safemode decides when the supervised node must run with the
// restrictive block-fetch flag and drives the restarts that flip it.
// The known failure mode: inside certain height ranges, bulk block
// transfer gets this node banned by its peers, and only fetching one
// block per request avoids it.
package safemode

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Quantus-Network/miner-console/config"
	"github.com/Quantus-Network/miner-console/internal/log"
)

// State is the controller's position in the enable/disable cycle.
type State int

const (
	// Normal: running without the restrictive flag.
	Normal State = iota
	// PendingEnable: a height inside a ban range was seen; the enabling
	// restart fires on the next tick.
	PendingEnable
	// SafeActive: running with the restrictive flag.
	SafeActive
	// PendingDisable: the range plus margin was cleared; the disabling
	// restart fires on the next tick.
	PendingDisable
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case PendingEnable:
		return "pending-enable"
	case SafeActive:
		return "active"
	case PendingDisable:
		return "pending-disable"
	default:
		return "unknown"
	}
}

// RestartFunc asks the supervisor for a restart with or without the
// restrictive flag. Returning an error leaves the controller in its
// pending state so the restart is retried on the next tick.
type RestartFunc func(safe bool) error

// Controller runs the safe-mode state machine. Heights stream in via
// Offer; decisions happen only on evaluation ticks, collapsing bursts
// of rapid height updates into single restart decisions.
type Controller struct {
	chain    config.Chain
	interval time.Duration
	restart  RestartFunc

	mu        sync.Mutex
	state     State
	height    uint64
	hasHeight bool
	active    config.HeightRange
	restarts  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// New creates a controller for the chain's configured ranges.
func New(chain config.Chain, interval time.Duration, restart RestartFunc) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		chain:    chain,
		interval: interval,
		restart:  restart,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.SafeMode.With().Str("chain", chain.ID).Logger(),
	}
}

// Start launches the evaluation ticker.
func (c *Controller) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// Stop terminates the ticker and waits for it to exit.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Offer records the latest imported height. It never transitions state
// by itself; the next tick evaluates it.
func (c *Controller) Offer(height uint64) {
	c.mu.Lock()
	c.height = height
	c.hasHeight = true
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FlagActive reports whether the supervised process currently runs with
// the restrictive flag. True from the enabling restart until the
// disabling one lands.
func (c *Controller) FlagActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == SafeActive || c.state == PendingDisable
}

// Restarts returns how many safe-mode restarts have been issued.
func (c *Controller) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// Reset returns the controller to Normal for a fresh supervised run.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.state = Normal
	c.height = 0
	c.hasHeight = false
	c.active = config.HeightRange{}
	c.restarts = 0
	c.mu.Unlock()
}

// Tick runs one evaluation step. Exactly one transition can happen per
// tick, so a height that enters a range becomes PendingEnable on one
// tick and the enabling restart fires on the next.
func (c *Controller) Tick() {
	c.mu.Lock()
	state := c.state
	height, has := c.height, c.hasHeight
	active := c.active
	c.mu.Unlock()

	switch state {
	case Normal:
		if !has {
			return
		}
		if r, ok := c.chain.InRange(height); ok {
			c.log.Info().
				Uint64("height", height).
				Uint64("range_start", r.Start).
				Uint64("range_end", r.End).
				Msg("Height inside ban range, safe mode pending")
			c.setState(PendingEnable, r)
		}

	case PendingEnable:
		if err := c.restart(true); err != nil {
			c.log.Warn().Err(err).Msg("Safe-mode enable restart failed, will retry")
			return
		}
		c.log.Info().Msg("Safe mode enabled")
		c.bumpRestarts()
		c.setState(SafeActive, active)

	case SafeActive:
		if !has {
			return
		}
		if height > active.End+c.chain.SafetyMargin {
			c.log.Info().
				Uint64("height", height).
				Uint64("clear_at", active.End+c.chain.SafetyMargin).
				Msg("Cleared ban range plus margin, safe mode disable pending")
			c.setState(PendingDisable, active)
		}

	case PendingDisable:
		if err := c.restart(false); err != nil {
			c.log.Warn().Err(err).Msg("Safe-mode disable restart failed, will retry")
			return
		}
		c.log.Info().Msg("Safe mode disabled")
		c.bumpRestarts()
		c.setState(Normal, config.HeightRange{})
	}
}

func (c *Controller) setState(s State, active config.HeightRange) {
	c.mu.Lock()
	c.state = s
	c.active = active
	c.mu.Unlock()
}

func (c *Controller) bumpRestarts() {
	c.mu.Lock()
	c.restarts++
	c.mu.Unlock()
}
