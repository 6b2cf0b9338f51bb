package parse

import (
	"regexp"
	"strconv"
	"strings"
)

// External miner event types.
const (
	MinerConnected     = "connected"
	MinerHashrate      = "hashrate"
	MinerShareAccepted = "share_accepted"
	MinerFoundBlock    = "found_block"
	MinerError         = "error"
)

// MinerEvent is a classified line of external miner output.
type MinerEvent struct {
	Type    string  `json:"type"`
	HPS     float64 `json:"hps,omitempty"`
	Height  uint64  `json:"height,omitempty"`
	Hash    string  `json:"hash,omitempty"`
	Message string  `json:"message,omitempty"`
}

var (
	hashratePattern    = regexp.MustCompile(`(?i)hashrate[:=]\s*([\d.]+)\s*h/?s`)
	hashrateAltPattern = regexp.MustCompile(`(?i)h/?s\s*=?\s*([\d.]+)`)
	minerHeightPattern = regexp.MustCompile(`(?i)(?:height[ =:]+|#)(\d+)`)
	minerHashPattern   = regexp.MustCompile(`(?i)(?:hash|block)[ =:]+(0x[0-9a-f]+|[0-9a-f]{6,})`)

	foundBlockMarkers = []string{
		"found block",
		"contributed block",
		"mined block",
	}
)

// ParseMinerEvent classifies one line of external miner output. Lines
// carrying no recognizable event return ok=false and are passed on as
// plain log output by the caller.
func ParseMinerEvent(line string) (MinerEvent, bool) {
	lower := strings.ToLower(line)

	if containsAny(lower, foundBlockMarkers) {
		ev := MinerEvent{Type: MinerFoundBlock}
		if m := minerHeightPattern.FindStringSubmatch(lower); m != nil {
			if h, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				ev.Height = h
			}
		}
		if m := minerHashPattern.FindStringSubmatch(lower); m != nil {
			ev.Hash = m[1]
		}
		return ev, true
	}
	if strings.Contains(lower, "share accepted") {
		return MinerEvent{Type: MinerShareAccepted}, true
	}
	if m := hashratePattern.FindStringSubmatch(line); m != nil {
		if hps, err := strconv.ParseFloat(m[1], 64); err == nil {
			return MinerEvent{Type: MinerHashrate, HPS: hps}, true
		}
	}
	if m := hashrateAltPattern.FindStringSubmatch(line); m != nil {
		if hps, err := strconv.ParseFloat(m[1], 64); err == nil {
			return MinerEvent{Type: MinerHashrate, HPS: hps}, true
		}
	}
	if strings.Contains(lower, "disconnect") ||
		strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") {
		return MinerEvent{Type: MinerError, Message: strings.TrimSpace(line)}, true
	}
	if strings.Contains(lower, "connected") || strings.Contains(lower, "syncing") {
		return MinerEvent{Type: MinerConnected}, true
	}
	return MinerEvent{}, false
}
