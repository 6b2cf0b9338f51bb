package parse

import (
	"encoding/json"
	"strings"
)

// BlockAccepted is the structured event the node prints when one of our
// blocks made it into the chain. It is the only trigger for the strong
// found-block signal.
type BlockAccepted struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

type structuredEvent struct {
	Event  string `json:"event"`
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// ParseBlockAccepted reports whether the line is a well-formed
// accepted-block event. Plain log text never matches, even when it
// talks about accepted blocks.
func ParseBlockAccepted(line string) (BlockAccepted, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return BlockAccepted{}, false
	}
	var ev structuredEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return BlockAccepted{}, false
	}
	if ev.Event != "block_accepted" {
		return BlockAccepted{}, false
	}
	return BlockAccepted{Height: ev.Height, Hash: ev.Hash}, true
}
