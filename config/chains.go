package config

import (
	"fmt"
	"sort"
)

// HeightRange is an inclusive block-height interval known to trigger
// peer bans on bulk transfer.
type HeightRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Contains reports whether h falls inside the range.
func (r HeightRange) Contains(h uint64) bool {
	return h >= r.Start && h <= r.End
}

// Chain is the static registry entry for one network. Immutable once
// resolved; the safe-range override file is merged at resolve time only.
type Chain struct {
	ID   string
	Name string

	// Endpoints
	LocalRPC    string
	BootnodeRPC string

	// Heights known to ban peers during bulk transfer, ascending by Start.
	Ranges []HeightRange

	// Blocks past a range end before safe mode disarms.
	SafetyMargin uint64
}

// InRange returns the configured range containing h, if any.
func (c Chain) InRange(h uint64) (HeightRange, bool) {
	for _, r := range c.Ranges {
		if r.Contains(h) {
			return r, true
		}
	}
	return HeightRange{}, false
}

// DefaultChain is used when no chain is configured.
const DefaultChain = "resonance"

// defaultLocalRPC is the supervised node's own RPC endpoint.
const defaultLocalRPC = "ws://127.0.0.1:9944"

// registry holds the built-in chain definitions.
var registry = map[string]Chain{
	"resonance": {
		ID:          "resonance",
		Name:        "Resonance",
		LocalRPC:    defaultLocalRPC,
		BootnodeRPC: "wss://boot.res.quantus.network",
		Ranges: []HeightRange{
			{Start: 13311, End: 13360},
		},
		SafetyMargin: 5,
	},
	"heisenberg": {
		ID:           "heisenberg",
		Name:         "Heisenberg",
		LocalRPC:     defaultLocalRPC,
		BootnodeRPC:  "wss://boot.hei.quantus.network",
		SafetyMargin: 5,
	},
	"quantus": {
		ID:           "quantus",
		Name:         "Quantus",
		LocalRPC:     defaultLocalRPC,
		BootnodeRPC:  "wss://boot.quantus.network",
		SafetyMargin: 5,
	},
}

// Chains returns all registered chains sorted by ID.
func Chains() []Chain {
	out := make([]Chain, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChainByID looks up a registered chain.
func ChainByID(id string) (Chain, bool) {
	c, ok := registry[id]
	return c, ok
}

// ResolveChain returns the effective chain definition for id: the registry
// entry with the safe-range override file and any endpoint overrides from
// cfg applied. The returned value is the caller's private copy.
func (c *Config) ResolveChain(id string) (Chain, error) {
	ch, ok := ChainByID(id)
	if !ok {
		return Chain{}, fmt.Errorf("unknown chain %q", id)
	}

	overrides, err := LoadSafeRanges(c.SafeRangesFile())
	if err != nil {
		return Chain{}, fmt.Errorf("load safe-range overrides: %w", err)
	}
	if ranges, ok := overrides[id]; ok {
		ch.Ranges = ranges
	} else {
		ch.Ranges = append([]HeightRange(nil), ch.Ranges...)
	}
	sort.Slice(ch.Ranges, func(i, j int) bool { return ch.Ranges[i].Start < ch.Ranges[j].Start })

	if c.LocalRPC != "" {
		ch.LocalRPC = c.LocalRPC
	}
	if c.BootnodeRPC != "" {
		ch.BootnodeRPC = c.BootnodeRPC
	}
	return ch, nil
}
