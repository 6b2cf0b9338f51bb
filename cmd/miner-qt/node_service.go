package main

import (
	"github.com/Quantus-Network/miner-console/config"
	"github.com/Quantus-Network/miner-console/internal/console"
	"github.com/Quantus-Network/miner-console/internal/status"
)

// NodeService exposes node supervision commands to the frontend.
type NodeService struct {
	app *App
}

// SafeRange is one known-bad block interval.
type SafeRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Start launches the supervised node with the current settings.
func (n *NodeService) Start() error {
	c, err := n.app.engine()
	if err != nil {
		return err
	}
	s := n.app.snapshotSettings()
	logToFile := s.LogToFile
	return c.Start(console.StartOptions{
		Chain:          s.Chain,
		RewardsAddress: s.RewardsAddress,
		ExecPath:       s.NodeBinary,
		ExtraArgs:      s.NodeArgs,
		LogToFile:      &logToFile,
	})
}

// Stop terminates the supervised node.
func (n *NodeService) Stop() error {
	c, err := n.app.engine()
	if err != nil {
		return err
	}
	return c.Stop()
}

// Restart stops the node and starts it again with the current settings.
func (n *NodeService) Restart() error {
	if err := n.Stop(); err != nil {
		return err
	}
	return n.Start()
}

// Repair stops the node, wipes the chain database, and restarts so the
// node resyncs from scratch.
func (n *NodeService) Repair() error {
	c, err := n.app.engine()
	if err != nil {
		return err
	}
	return c.Repair()
}

// Unlock removes a stale database LOCK file left by an unclean shutdown,
// then restarts the node.
func (n *NodeService) Unlock() error {
	c, err := n.app.engine()
	if err != nil {
		return err
	}
	return c.Unlock()
}

// IsRunning reports whether the supervised node is live.
func (n *NodeService) IsRunning() bool {
	if n.app.console == nil {
		return false
	}
	return n.app.console.Running()
}

// GetStatus returns the latest sync-status snapshot.
func (n *NodeService) GetStatus() (status.Snapshot, error) {
	c, err := n.app.engine()
	if err != nil {
		return status.Snapshot{}, err
	}
	return c.Status(), nil
}

// GetActiveChain returns the chain the engine is currently bound to.
func (n *NodeService) GetActiveChain() (string, error) {
	c, err := n.app.engine()
	if err != nil {
		return "", err
	}
	return c.ActiveChain().ID, nil
}

// GetSafeRanges returns the effective safe-mode ranges for a chain.
func (n *NodeService) GetSafeRanges(chain string) ([]SafeRange, error) {
	c, err := n.app.engine()
	if err != nil {
		return nil, err
	}
	ranges, err := c.SafeRanges(chain)
	if err != nil {
		return nil, err
	}
	out := make([]SafeRange, len(ranges))
	for i, r := range ranges {
		out[i] = SafeRange{Start: r.Start, End: r.End}
	}
	return out, nil
}

// SetSafeRanges overrides the safe-mode ranges for a chain.
func (n *NodeService) SetSafeRanges(chain string, ranges []SafeRange) error {
	c, err := n.app.engine()
	if err != nil {
		return err
	}
	conv := make([]config.HeightRange, len(ranges))
	for i, r := range ranges {
		conv[i] = config.HeightRange{Start: r.Start, End: r.End}
	}
	return c.SetSafeRanges(chain, conv)
}
