package main

import (
	"fmt"
	"os"
)

// handleResolve answers "what is the session at this path doing".
// Exit code 0 means a session is present, 2 means none.
func handleResolve(e *env, args []string) int {
	args, jsonOut := extractJSONFlag(args)
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: agent-radar resolve [--json] <path>")
		return 1
	}

	res, tracker, j := newResolver(e)
	defer tracker.Close()
	if j != nil {
		defer j.Close()
	}

	result := res.Resolve(args[0])
	if jsonOut {
		return printJSON(result)
	}

	if !result.Present {
		fmt.Printf("no session at %s\n", result.Path)
		return 2
	}
	fmt.Printf("%s %s", stateGlyph(result.State), result.State)
	if result.SessionID != "" {
		fmt.Printf("  session=%s", result.SessionID)
	}
	if result.PID != 0 {
		fmt.Printf("  pid=%d", result.PID)
	}
	fmt.Printf("  via=%s\n", result.Source)
	return 0
}
