package main

import (
	"fmt"
	"time"
)

// handleSessions lists every known session with its effective state.
func handleSessions(e *env, args []string) int {
	_, jsonOut := extractJSONFlag(args)

	res, tracker, j := newResolver(e)
	defer tracker.Close()
	if j != nil {
		defer j.Close()
	}

	views := res.ListSessions()
	if jsonOut {
		return printJSON(map[string]any{"sessions": views})
	}

	if len(views) == 0 {
		fmt.Println("no sessions")
		return 0
	}

	fmt.Printf("  %-*s %-*s %-*s %s\n", tableColState, "STATE", tableColPath, "PATH", tableColID, "SESSION", "UPDATED")
	for _, v := range views {
		id := v.SessionID
		if len(id) > tableColID {
			id = id[:tableColID]
		}
		fmt.Printf("%s %-*s %-*s %-*s %s\n",
			stateGlyph(v.State),
			tableColState, v.State,
			tableColPath, truncatePath(v.ProjectDir, tableColPath),
			tableColID, id,
			humanAge(v.UpdatedAt))
	}
	return 0
}

func humanAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
