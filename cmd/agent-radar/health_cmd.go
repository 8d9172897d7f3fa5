package main

import "fmt"

// handleHealth prints data source status.
func handleHealth(e *env, args []string) int {
	_, jsonOut := extractJSONFlag(args)

	res, tracker, j := newResolver(e)
	defer tracker.Close()
	if j != nil {
		defer j.Close()
	}

	h := res.CheckHealth()
	if jsonOut {
		return printJSON(h)
	}

	fmt.Printf("data dir:    %s\n", e.paths.BaseDir)
	fmt.Printf("sessions:    %d\n", h.Sessions)
	fmt.Printf("live locks:  %d\n", h.LiveLocks)
	if h.LastIngest.IsZero() {
		fmt.Println("last ingest: never")
	} else {
		fmt.Printf("last ingest: %s\n", humanAge(h.LastIngest))
	}
	return 0
}
