package main

import (
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/Quantus-Network/miner-console/internal/parse"
)

// Event names emitted to the frontend.
const (
	evStatus     = "miner:status"
	evState      = "miner:state"
	evLog        = "miner:log"
	evMeta       = "miner:meta"
	evBlockFound = "miner:block-found"
	evExtMiner   = "miner:ext"
)

// minerEventView is an external-miner event with a display-ready
// hashrate attached for the frontend.
type minerEventView struct {
	parse.MinerEvent
	Display string `json:"display,omitempty"`
}

// forwardEvents fans the engine streams out onto the frontend event bus.
// Subscriptions are released in shutdown.
func (a *App) forwardEvents() {
	c := a.console

	statusCh, cancel := c.StatusStream()
	a.cancels = append(a.cancels, cancel)
	go func() {
		for snap := range statusCh {
			runtime.EventsEmit(a.ctx, evStatus, snap)
			runtime.WindowSetTitle(a.ctx, titleFor(snap))
		}
	}()

	stateCh, cancel := c.ProcessStates()
	a.cancels = append(a.cancels, cancel)
	go func() {
		for ev := range stateCh {
			runtime.EventsEmit(a.ctx, evState, ev)
		}
	}()

	logCh, cancel := c.Logs()
	a.cancels = append(a.cancels, cancel)
	go func() {
		for ln := range logCh {
			runtime.EventsEmit(a.ctx, evLog, ln)
		}
	}()

	metaCh, cancel := c.MetaEvents()
	a.cancels = append(a.cancels, cancel)
	go func() {
		for m := range metaCh {
			runtime.EventsEmit(a.ctx, evMeta, m)
		}
	}()

	blockCh, cancel := c.BlockEvents()
	a.cancels = append(a.cancels, cancel)
	go func() {
		for fb := range blockCh {
			runtime.EventsEmit(a.ctx, evBlockFound, fb)
			body := fmt.Sprintf("Block %d on %s", fb.Height, fb.Chain)
			if fb.Hash != "" {
				body += " (" + shortHash(fb.Hash) + ")"
			}
			sendOSNotification("Block found!", body)
		}
	}()

	minerCh, cancel := c.MinerEvents()
	a.cancels = append(a.cancels, cancel)
	go func() {
		for ev := range minerCh {
			view := minerEventView{MinerEvent: ev}
			if ev.Type == parse.MinerHashrate && ev.HPS > 0 {
				view.Display = formatHashrate(ev.HPS)
			}
			runtime.EventsEmit(a.ctx, evExtMiner, view)
		}
	}()
}
