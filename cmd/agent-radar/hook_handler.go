package main

import (
	"log/slog"
	"os"

	"github.com/asheshgoplani/agent-radar/internal/hookevent"
	"github.com/asheshgoplani/agent-radar/internal/ingest"
	"github.com/asheshgoplani/agent-radar/internal/journal"
)

// handleHookEvent ingests one hook payload from stdin. It never exits
// nonzero and never writes to stdout: a failure here must not block or
// confuse the agent that invoked the hook.
func handleHookEvent(e *env) {
	log := cliLog()

	ev, err := hookevent.Parse(os.Stdin)
	if err != nil {
		log.Debug("hook_payload_unparseable", slog.String("error", err.Error()))
		return
	}

	var j *journal.Journal
	if e.cfg.Journal.GetEnabled() {
		if opened, err := journal.Open(e.paths.JournalPath()); err != nil {
			log.Warn("journal_open_failed", slog.String("error", err.Error()))
		} else {
			j = opened
			defer j.Close()
		}
	}

	in := ingest.New(newSessionStore(e), j, e.cfg.Resolver)
	outcome, err := in.Apply(ev)
	if err != nil {
		log.Warn("hook_ingest_failed",
			slog.String("event", string(ev.Name)),
			slog.String("error", err.Error()))
		return
	}
	log.Debug("hook_ingested",
		slog.String("event", string(ev.Name)),
		slog.String("session", ev.SessionID),
		slog.String("outcome", string(outcome)))
}
