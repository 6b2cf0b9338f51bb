// dump_history.go prints the found-block and run history stored in a data dir.
// Usage: go run scripts/dump_history.go <datadir> <chain>
// The console must not be running; the history database is single-access.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Quantus-Network/miner-console/internal/history"
	"github.com/Quantus-Network/miner-console/internal/storage"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: dump_history <datadir> <chain>")
		os.Exit(1)
	}
	dataDir, chain := os.Args[1], os.Args[2]

	db, err := storage.NewBadger(filepath.Join(dataDir, "history"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()

	store := history.NewStore(db)

	blocks, err := store.Blocks(chain, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("found blocks (%d):\n", len(blocks))
	for _, fb := range blocks {
		fmt.Printf("  %s  height=%d  hash=%s  run=%s\n",
			fb.When.Format("2006-01-02 15:04:05"), fb.Height, fb.Hash, fb.RunID)
	}

	runs, err := store.Runs(chain, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("runs (%d):\n", len(runs))
	for _, run := range runs {
		stopped := "still running or crashed"
		if run.StoppedAt != nil {
			stopped = run.StoppedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("  %s .. %s  safe_restarts=%d found_blocks=%d  id=%s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), stopped,
			run.SafeRestarts, run.FoundBlocks, run.ID)
	}
}
