package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/asheshgoplani/agent-radar/internal/activity"
	"github.com/asheshgoplani/agent-radar/internal/journal"
	"github.com/asheshgoplani/agent-radar/internal/lockstore"
	"github.com/asheshgoplani/agent-radar/internal/resolver"
	"github.com/asheshgoplani/agent-radar/internal/sessionstore"
)

func newSessionStore(e *env) *sessionstore.Store {
	return sessionstore.New(e.paths.StorePath())
}

func newLockStore(e *env) *lockstore.Store {
	return lockstore.New(e.paths.LocksDir(), e.cfg.Locks, nil)
}

// newResolver wires the full resolution stack. The journal handle may
// be nil when the journal is disabled or unopenable.
func newResolver(e *env) (*resolver.Resolver, *activity.Tracker, *journal.Journal) {
	var j *journal.Journal
	if e.cfg.Journal.GetEnabled() {
		if opened, err := journal.Open(e.paths.JournalPath()); err == nil {
			j = opened
		}
	}
	tracker := activity.New(e.cfg.Activity)
	res := resolver.New(newLockStore(e), newSessionStore(e), tracker, j, e.cfg.Resolver)
	return res, tracker, j
}

// extractJSONFlag strips --json from args and reports whether it was
// present.
func extractJSONFlag(args []string) ([]string, bool) {
	out := args[:0]
	jsonOut := false
	for _, a := range args {
		if a == "--json" {
			jsonOut = true
			continue
		}
		out = append(out, a)
	}
	return out, jsonOut
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// truncatePath shortens long paths from the left so the tail, the part
// that disambiguates projects, stays visible.
func truncatePath(p string, max int) string {
	if len(p) <= max {
		return p
	}
	return "…" + p[len(p)-max+1:]
}

// stateGlyph maps a state to the marker shown in table output.
func stateGlyph(s sessionstore.SessionState) string {
	switch s {
	case sessionstore.StateWorking:
		return "●"
	case sessionstore.StateWaiting:
		return "◐"
	case sessionstore.StateCompacting:
		return "◌"
	case sessionstore.StateReady:
		return "○"
	default:
		return " "
	}
}
