package main

import (
	"fmt"

	"github.com/Quantus-Network/miner-console/internal/status"
)

// shortHash abbreviates a block hash for display: first 10 and last 6
// characters.
func shortHash(h string) string {
	if len(h) <= 18 {
		return h
	}
	return h[:10] + ".." + h[len(h)-6:]
}

// formatHashrate renders a hashes-per-second figure with a unit prefix.
func formatHashrate(hps float64) string {
	switch {
	case hps >= 1e9:
		return fmt.Sprintf("%.2f GH/s", hps/1e9)
	case hps >= 1e6:
		return fmt.Sprintf("%.2f MH/s", hps/1e6)
	case hps >= 1e3:
		return fmt.Sprintf("%.2f kH/s", hps/1e3)
	default:
		return fmt.Sprintf("%.1f H/s", hps)
	}
}

// titleFor renders the window title from a status snapshot.
func titleFor(s status.Snapshot) string {
	switch {
	case s.Best != nil && s.Highest != nil && *s.Highest > 0:
		return fmt.Sprintf("Quantus Miner Console - %s %d/%d", s.Phase, *s.Best, *s.Highest)
	case s.Best != nil:
		return fmt.Sprintf("Quantus Miner Console - %s #%d", s.Phase, *s.Best)
	default:
		return "Quantus Miner Console - " + s.Phase
	}
}
