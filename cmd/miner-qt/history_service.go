package main

import (
	"github.com/Quantus-Network/miner-console/internal/history"
)

// HistoryService exposes found-block and run history to the frontend.
type HistoryService struct {
	app *App
}

// GetFoundBlocks returns the most recent found blocks for a chain,
// newest first. An empty chain means the active one.
func (h *HistoryService) GetFoundBlocks(chain string, limit int) ([]history.FoundBlock, error) {
	c, err := h.app.engine()
	if err != nil {
		return nil, err
	}
	return c.FoundBlocks(chain, limit)
}

// GetRuns returns the most recent node runs for a chain, newest first.
func (h *HistoryService) GetRuns(chain string, limit int) ([]history.Run, error) {
	c, err := h.app.engine()
	if err != nil {
		return nil, err
	}
	return c.Runs(chain, limit)
}

// Clear removes all stored history for a chain.
func (h *HistoryService) Clear(chain string) error {
	c, err := h.app.engine()
	if err != nil {
		return err
	}
	return c.ClearHistory(chain)
}
