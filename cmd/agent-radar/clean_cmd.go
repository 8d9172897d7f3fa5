package main

import (
	"fmt"
	"os"
	"time"

	"github.com/asheshgoplani/agent-radar/internal/journal"
)

// handleClean runs the hygiene sweeps: dead locks past the legacy
// expiry, records untouched for a day, expired tombstones, and old
// journal rows. Correctness never depends on cleaning; this only
// reclaims disk and shortens scans.
func handleClean(e *env, args []string) int {
	locks := newLockStore(e)
	store := newSessionStore(e)

	sweptLocks := locks.SweepDead(e.cfg.Locks.LegacyExpiry())

	staleRecords, err := store.PruneStale(24 * time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: prune records: %v\n", err)
		return 1
	}

	tombstones, err := store.PruneTombstones(e.cfg.Resolver.TombstoneGrace())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: prune tombstones: %v\n", err)
		return 1
	}

	journalRows := 0
	if e.cfg.Journal.GetEnabled() {
		if j, err := journal.Open(e.paths.JournalPath()); err == nil {
			journalRows, _ = j.Prune(e.cfg.Journal.Retention())
			j.Close()
		}
	}

	fmt.Printf("removed %d dead locks, %d stale records, %d tombstones, %d journal rows\n",
		sweptLocks, staleRecords, tombstones, journalRows)
	return 0
}
