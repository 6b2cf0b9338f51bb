// Package history persists the console's mining record: every accepted
// block and every supervised run, keyed per chain.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Quantus-Network/miner-console/internal/storage"
)

// FoundBlock is one accepted block credited to this console.
type FoundBlock struct {
	Chain  string    `json:"chain"`
	Height uint64    `json:"height"`
	Hash   string    `json:"hash,omitempty"`
	When   time.Time `json:"when"`
	RunID  string    `json:"run_id,omitempty"`
}

// Run is one supervised node run from start to stop.
type Run struct {
	ID           string     `json:"id"`
	Chain        string     `json:"chain"`
	StartedAt    time.Time  `json:"started_at"`
	StoppedAt    *time.Time `json:"stopped_at,omitempty"`
	SafeRestarts int        `json:"safe_restarts"`
	FoundBlocks  int        `json:"found_blocks"`
}

// Store reads and writes history records. Found blocks and runs live in
// separate key namespaces, each subdivided per chain.
type Store struct {
	blocks *storage.PrefixDB
	runs   *storage.PrefixDB
}

// NewStore creates a Store on top of db.
func NewStore(db storage.DB) *Store {
	return &Store{
		blocks: storage.NewPrefixDB(db, []byte("fb/")),
		runs:   storage.NewPrefixDB(db, []byte("run/")),
	}
}

// Keys are zero-padded hex so lexical order matches numeric order and
// prefix iteration yields records oldest first.
func blockKey(chain string, height uint64) []byte {
	return []byte(fmt.Sprintf("%s/%016x", chain, height))
}

func runKey(chain string, startedAt time.Time) []byte {
	return []byte(fmt.Sprintf("%s/%016x", chain, uint64(startedAt.UnixNano())))
}

// RecordBlock persists one found block. Recording the same height twice
// overwrites the earlier record.
func (s *Store) RecordBlock(fb FoundBlock) error {
	if fb.Chain == "" {
		return fmt.Errorf("record block: empty chain")
	}
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("encode found block: %w", err)
	}
	if err := s.blocks.Put(blockKey(fb.Chain, fb.Height), data); err != nil {
		return fmt.Errorf("store found block: %w", err)
	}
	return nil
}

// Blocks returns found blocks for a chain, newest first. A limit <= 0
// returns all of them.
func (s *Store) Blocks(chain string, limit int) ([]FoundBlock, error) {
	var out []FoundBlock
	err := s.blocks.ForEach([]byte(chain+"/"), func(_, value []byte) error {
		var fb FoundBlock
		if err := json.Unmarshal(value, &fb); err != nil {
			return fmt.Errorf("decode found block: %w", err)
		}
		out = append(out, fb)
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StartRun creates and persists a new run record for the chain.
func (s *Store) StartRun(chain string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Chain:     chain,
		StartedAt: time.Now(),
	}
	if err := s.SaveRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// SaveRun persists the run record, overwriting any previous state.
func (s *Store) SaveRun(run *Run) error {
	if run.Chain == "" {
		return fmt.Errorf("save run: empty chain")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if err := s.runs.Put(runKey(run.Chain, run.StartedAt), data); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's stop time and persists it.
func (s *Store) FinishRun(run *Run) error {
	now := time.Now()
	run.StoppedAt = &now
	return s.SaveRun(run)
}

// Runs returns run records for a chain, newest first. A limit <= 0
// returns all of them.
func (s *Store) Runs(chain string, limit int) ([]Run, error) {
	var out []Run
	err := s.runs.ForEach([]byte(chain+"/"), func(_, value []byte) error {
		var run Run
		if err := json.Unmarshal(value, &run); err != nil {
			return fmt.Errorf("decode run: %w", err)
		}
		out = append(out, run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear wipes all history for one chain.
func (s *Store) Clear(chain string) error {
	if err := storage.NewPrefixDB(s.blocks, []byte(chain+"/")).DeleteAll(); err != nil {
		return fmt.Errorf("clear found blocks: %w", err)
	}
	if err := storage.NewPrefixDB(s.runs, []byte(chain+"/")).DeleteAll(); err != nil {
		return fmt.Errorf("clear runs: %w", err)
	}
	return nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
