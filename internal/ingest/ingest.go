// Package ingest applies hook events to the session store. Each event
// maps to at most one state transition; everything unexpected degrades
// to a touch or a no-op so a misbehaving hook can never wedge the
// store.
package ingest

import (
	"log/slog"

	"github.com/asheshgoplani/agent-radar/internal/config"
	"github.com/asheshgoplani/agent-radar/internal/hookevent"
	"github.com/asheshgoplani/agent-radar/internal/journal"
	"github.com/asheshgoplani/agent-radar/internal/logging"
	"github.com/asheshgoplani/agent-radar/internal/pathutil"
	"github.com/asheshgoplani/agent-radar/internal/sessionstore"
)

var ingestLog = logging.ForComponent(logging.CompIngest)

// Outcome describes what ingesting an event did.
type Outcome string

const (
	// OutcomeApplied means the event changed or touched the record.
	OutcomeApplied Outcome = "applied"
	// OutcomeSuppressed means a tombstone swallowed the event.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeDeleted means the event ended the session.
	OutcomeDeleted Outcome = "deleted"
	// OutcomeIgnored means the event could not be applied: an unknown
	// name, or no resolvable cwd for a session never seen before.
	OutcomeIgnored Outcome = "ignored"
)

// Ingestor routes events into the store and, when configured, the
// journal.
type Ingestor struct {
	store   *sessionstore.Store
	journal *journal.Journal
	cfg     config.ResolverSettings
}

// New creates an ingestor. journal may be nil to skip event logging.
func New(store *sessionstore.Store, j *journal.Journal, cfg config.ResolverSettings) *Ingestor {
	return &Ingestor{store: store, journal: j, cfg: cfg}
}

// Apply ingests one event. It never returns an error for content it
// does not understand, only for persistence failures.
func (in *Ingestor) Apply(ev hookevent.Event) (Outcome, error) {
	outcome, err := in.apply(ev)
	if err != nil {
		return outcome, err
	}
	if in.journal != nil {
		if jerr := in.journal.Append(ev, string(outcome)); jerr != nil {
			// The journal is diagnostics, not state. Log and move on.
			ingestLog.Warn("journal_append_failed", slog.String("error", jerr.Error()))
		}
	}
	ingestLog.Debug("event_ingested",
		slog.String("event", string(ev.Name)),
		slog.String("session", ev.SessionID),
		slog.String("outcome", string(outcome)))
	return outcome, nil
}

func (in *Ingestor) apply(ev hookevent.Event) (Outcome, error) {
	// A tombstoned session is over. Late-arriving events are dropped,
	// with one exception: a fresh SessionStart legitimately reuses the
	// ID and revives it.
	if ev.Name != hookevent.SessionStart &&
		in.store.IsTombstoned(ev.SessionID, in.cfg.TombstoneGrace()) {
		return OutcomeSuppressed, nil
	}

	switch ev.Name {
	case hookevent.SessionStart:
		if err := in.store.ClearTombstone(ev.SessionID); err != nil {
			return OutcomeApplied, err
		}
		return in.update(ev, func(r *sessionstore.SessionRecord) {
			r.State = sessionstore.StateReady
			r.SubagentCount = 0
		})

	case hookevent.UserPromptSubmit, hookevent.PreToolUse, hookevent.PostToolUse:
		return in.update(ev, func(r *sessionstore.SessionRecord) {
			r.State = sessionstore.StateWorking
			if ev.Name == hookevent.PreToolUse && ev.Tool == "Task" {
				r.SubagentCount++
			}
		})

	case hookevent.PermissionRequest:
		return in.update(ev, func(r *sessionstore.SessionRecord) {
			r.State = sessionstore.StateWaiting
		})

	case hookevent.Notification:
		switch ev.NotificationKind() {
		case hookevent.NotifyPermission:
			return in.update(ev, func(r *sessionstore.SessionRecord) {
				r.State = sessionstore.StateWaiting
			})
		case hookevent.NotifyIdle:
			return in.update(ev, func(r *sessionstore.SessionRecord) {
				r.State = sessionstore.StateReady
			})
		default:
			// Informational only. Touch the record so recency tracking
			// sees the session is alive.
			return in.update(ev, func(r *sessionstore.SessionRecord) {})
		}

	case hookevent.Stop:
		if ev.StopHookActive {
			// The turn is not actually over; a stop hook is still
			// running inside it.
			return in.update(ev, func(r *sessionstore.SessionRecord) {})
		}
		return in.update(ev, func(r *sessionstore.SessionRecord) {
			r.State = sessionstore.StateReady
		})

	case hookevent.SubagentStop:
		return in.update(ev, func(r *sessionstore.SessionRecord) {
			if r.SubagentCount > 0 {
				r.SubagentCount--
			}
		})

	case hookevent.PreCompact:
		// Both manual and auto compaction suspend normal activity.
		return in.update(ev, func(r *sessionstore.SessionRecord) {
			r.State = sessionstore.StateCompacting
		})

	case hookevent.SessionEnd:
		return OutcomeDeleted, in.store.Delete(ev.SessionID, true)

	default:
		return OutcomeIgnored, nil
	}
}

// update writes the common event metadata, then the event-specific
// mutation. A cwd-less event keeps an existing record's project dir;
// for an unseen session it is dropped outright, since a record with no
// project dir can never be resolved and would only pollute listings.
func (in *Ingestor) update(ev hookevent.Event, mutate func(r *sessionstore.SessionRecord)) (Outcome, error) {
	outcome := OutcomeApplied
	err := in.store.Update(ev.SessionID, func(r *sessionstore.SessionRecord) bool {
		if ev.CWD != "" && pathutil.IsAbs(ev.CWD) {
			r.ProjectDir = pathutil.Normalize(ev.CWD)
		} else if r.UpdatedAt == 0 {
			outcome = OutcomeIgnored
			return false
		}
		if ev.TranscriptPath != "" {
			r.TranscriptPath = ev.TranscriptPath
		}
		if ev.PermissionMode != "" {
			r.PermissionMode = ev.PermissionMode
		}
		r.LastEvent = string(ev.Name)
		mutate(r)
		return true
	})
	return outcome, err
}
