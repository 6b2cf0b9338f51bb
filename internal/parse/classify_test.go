package parse

import "testing"

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name       string
		current    Phase
		line       string
		wantPhase  Phase
		wantHas    bool
		wantHeight uint64
		wantHasH   bool
		wantSoft   bool
		wantCorr   bool
	}{
		{
			name:       "importing block extracts height",
			current:    PhaseSyncing,
			line:       "Importing block #13320 (0xabc...)",
			wantPhase:  PhaseSyncing,
			wantHas:    true,
			wantHeight: 13320,
			wantHasH:   true,
		},
		{
			name:       "imported shorthand extracts height",
			current:    PhaseSyncing,
			line:       "✨ Imported #9281 (0x3c9d...)",
			wantPhase:  PhaseSyncing,
			wantHas:    true,
			wantHeight: 9281,
			wantHasH:   true,
		},
		{
			name:      "case insensitive matching",
			current:   PhaseStarting,
			line:      "SYNCING 2.4 bps, target=#12000",
			wantPhase: PhaseSyncing,
			wantHas:   true,
		},
		{
			name:      "idle progress line",
			current:   PhaseSyncing,
			line:      "💤 Idle (3 peers), best: #9281, finalized #9200",
			wantPhase: PhaseSyncing,
			wantHas:   true,
		},
		{
			name:      "corruption marker",
			current:   PhaseSyncing,
			line:      "Database corrupted, state unavailable",
			wantPhase: PhaseRepairing,
			wantHas:   true,
			wantCorr:  true,
		},
		{
			name:      "repair complete returns to syncing",
			current:   PhaseRepairing,
			line:      "repair complete, resuming sync",
			wantPhase: PhaseSyncing,
			wantHas:   true,
		},
		{
			name:      "proposal while syncing stays syncing",
			current:   PhaseSyncing,
			line:      "block proposal prepared at height 500",
			wantPhase: PhaseSyncing,
			wantHas:   true,
			wantSoft:  true,
		},
		{
			name:      "proposal while mining stays mining",
			current:   PhaseMining,
			line:      "🎁 Prepared block for proposing at 501",
			wantPhase: PhaseMining,
			wantHas:   true,
			wantSoft:  true,
		},
		{
			name:      "bare error line",
			current:   PhaseSyncing,
			line:      "ERROR: peer disconnected unexpectedly",
			wantPhase: PhaseError,
			wantHas:   true,
		},
		{
			name:       "error loses to import match",
			current:    PhaseSyncing,
			line:       "error recovered while importing block #500",
			wantPhase:  PhaseSyncing,
			wantHas:    true,
			wantHeight: 500,
			wantHasH:   true,
		},
		{
			name:    "unmatched line has no phase",
			current: PhaseSyncing,
			line:    "discovered new external address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ClassifyLine(tt.current, tt.line)
			if res.HasPhase != tt.wantHas {
				t.Fatalf("HasPhase = %v, want %v", res.HasPhase, tt.wantHas)
			}
			if res.HasPhase && res.Phase != tt.wantPhase {
				t.Errorf("Phase = %v, want %v", res.Phase, tt.wantPhase)
			}
			if res.HasHeight != tt.wantHasH {
				t.Errorf("HasHeight = %v, want %v", res.HasHeight, tt.wantHasH)
			}
			if res.HasHeight && res.Height != tt.wantHeight {
				t.Errorf("Height = %d, want %d", res.Height, tt.wantHeight)
			}
			if res.SoftProposal != tt.wantSoft {
				t.Errorf("SoftProposal = %v, want %v", res.SoftProposal, tt.wantSoft)
			}
			if res.Corruption != tt.wantCorr {
				t.Errorf("Corruption = %v, want %v", res.Corruption, tt.wantCorr)
			}
		})
	}
}

func TestClassifyLine_ProposalIsNotFoundBlock(t *testing.T) {
	line := "block proposal prepared at height 500"
	res := ClassifyLine(PhaseSyncing, line)
	if !res.SoftProposal {
		t.Error("expected soft proposal signal")
	}
	if res.Phase != PhaseSyncing {
		t.Errorf("Phase = %v, want %v", res.Phase, PhaseSyncing)
	}
	if _, ok := ParseBlockAccepted(line); ok {
		t.Error("proposal line must not parse as an accepted block")
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseStopped, "stopped"},
		{PhaseStarting, "starting"},
		{PhaseSyncing, "syncing"},
		{PhaseMining, "mining"},
		{PhaseRepairing, "repairing"},
		{PhaseError, "error"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestParseBlockAccepted(t *testing.T) {
	ev, ok := ParseBlockAccepted(`{"event":"block_accepted","height":1234,"hash":"0xdeadbeef"}`)
	if !ok {
		t.Fatal("expected accepted-block event")
	}
	if ev.Height != 1234 {
		t.Errorf("height = %d, want 1234", ev.Height)
	}
	if ev.Hash != "0xdeadbeef" {
		t.Errorf("hash = %q, want %q", ev.Hash, "0xdeadbeef")
	}
}

func TestParseBlockAccepted_Rejects(t *testing.T) {
	lines := []string{
		"block accepted at height 1234",
		`{"event":"block_proposed","height":1234}`,
		`{"height":1234}`,
		`{broken json`,
		"",
	}
	for _, line := range lines {
		if _, ok := ParseBlockAccepted(line); ok {
			t.Errorf("line %q should not parse as accepted block", line)
		}
	}
}

func TestParseBlockAccepted_LeadingWhitespace(t *testing.T) {
	if _, ok := ParseBlockAccepted("  \t" + `{"event":"block_accepted","height":7}`); !ok {
		t.Error("leading whitespace should not prevent parsing")
	}
}
