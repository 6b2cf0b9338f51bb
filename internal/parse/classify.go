// Package parse turns quantus-node output into structured signals: a
// phase classification per line, imported block heights, startup
// metadata, and the accepted-block event embedded as a JSON line.
package parse

import (
	"regexp"
	"strconv"
	"strings"
)

// Phase is the console's view of what the supervised node is doing.
type Phase int

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseSyncing
	PhaseMining
	PhaseRepairing
	PhaseError
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseSyncing:
		return "syncing"
	case PhaseMining:
		return "mining"
	case PhaseRepairing:
		return "repairing"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the classification of a single output line. Phase and Height
// are meaningful only when their Has flag is set.
type Result struct {
	Phase     Phase
	HasPhase  bool
	Height    uint64
	HasHeight bool

	// SoftProposal marks a prepared-but-unconfirmed block proposal. It
	// never raises the found-block event; confirmation comes only from
	// the structured accepted-block line.
	SoftProposal bool

	// Corruption marks lines indicating an unreadable chain database.
	Corruption bool
}

var (
	importPattern = regexp.MustCompile(`(?:importing block|imported) #(\d+)`)

	corruptionMarkers = []string{
		"corrupt",
		"database version cannot be read",
	}
	proposalMarkers = []string{
		"prepared block for proposing",
		"block proposal prepared",
		"pre-sealed block",
	}
	progressMarkers = []string{
		"syncing",
		"best: #",
		"target=#",
	}
)

// ClassifyLine classifies one output line against the current phase.
// Matching is case-insensitive. Rules are ordered most to least
// specific; a bare "error" substring only applies when nothing else
// matched the line.
func ClassifyLine(current Phase, line string) Result {
	l := strings.ToLower(line)
	var res Result

	switch {
	case strings.Contains(l, "repair complete"):
		res.Phase, res.HasPhase = PhaseSyncing, true

	case containsAny(l, corruptionMarkers):
		res.Phase, res.HasPhase = PhaseRepairing, true
		res.Corruption = true

	case strings.Contains(l, "repair"):
		res.Phase, res.HasPhase = PhaseRepairing, true

	case importPattern.MatchString(l):
		res.Phase, res.HasPhase = PhaseSyncing, true
		if m := importPattern.FindStringSubmatch(l); m != nil {
			if n, err := strconv.ParseUint(m[1], 10, 64); err == nil {
				res.Height, res.HasHeight = n, true
			}
		}

	case containsAny(l, proposalMarkers):
		res.SoftProposal = true
		if current == PhaseMining {
			res.Phase, res.HasPhase = PhaseMining, true
		} else {
			res.Phase, res.HasPhase = PhaseSyncing, true
		}

	case containsAny(l, progressMarkers):
		res.Phase, res.HasPhase = PhaseSyncing, true

	case strings.Contains(l, "error"):
		res.Phase, res.HasPhase = PhaseError, true
	}

	return res
}

func containsAny(l string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(l, m) {
			return true
		}
	}
	return false
}
