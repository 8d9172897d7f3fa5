// Package resolver answers the one question this tool exists for:
// given a project path, what is the agent session there doing right
// now. It layers three signals in strict priority order: live locks,
// session records, and file activity, with staleness rules deciding
// how far each signal is trusted.
package resolver

import (
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/agent-radar/internal/activity"
	"github.com/asheshgoplani/agent-radar/internal/config"
	"github.com/asheshgoplani/agent-radar/internal/hookevent"
	"github.com/asheshgoplani/agent-radar/internal/journal"
	"github.com/asheshgoplani/agent-radar/internal/lockstore"
	"github.com/asheshgoplani/agent-radar/internal/logging"
	"github.com/asheshgoplani/agent-radar/internal/pathutil"
	"github.com/asheshgoplani/agent-radar/internal/sessionstore"
)

var resLog = logging.ForComponent(logging.CompResolver)

// Source names which signal decided a resolution.
type Source string

const (
	SourceLock     Source = "lock"
	SourceRecord   Source = "record"
	SourceActivity Source = "activity"
	SourceNone     Source = "none"
)

// Resolution is the answer for one path.
type Resolution struct {
	// Path is the normalized query path.
	Path string `json:"path"`

	// Present reports whether any session appears to exist at the path.
	Present bool `json:"present"`

	// State is meaningful only when Present is true.
	State sessionstore.SessionState `json:"state,omitempty"`

	// SessionID is set when a session record backed the answer.
	SessionID string `json:"session_id,omitempty"`

	// PID is set when a live lock backed the answer.
	PID int `json:"pid,omitempty"`

	// Source names the winning signal.
	Source Source `json:"source"`

	// UpdatedAt is when the backing record was last touched, when one
	// exists.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Resolver combines the lock store, the session store, and the
// activity tracker.
type Resolver struct {
	locks   *lockstore.Store
	store   *sessionstore.Store
	tracker *activity.Tracker
	journal *journal.Journal
	cfg     config.ResolverSettings

	sf        singleflight.Group
	startedAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a resolver. journal may be nil; Health then reports no
// ingest time.
func New(locks *lockstore.Store, store *sessionstore.Store, tracker *activity.Tracker, j *journal.Journal, cfg config.ResolverSettings) *Resolver {
	return &Resolver{
		locks:     locks,
		store:     store,
		tracker:   tracker,
		journal:   j,
		cfg:       cfg,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Resolve answers for one path. Concurrent queries for the same
// normalized path share one computation.
func (r *Resolver) Resolve(path string) Resolution {
	norm := pathutil.Normalize(path)
	if !pathutil.IsAbs(norm) {
		// Relative paths cannot be matched against locks or records.
		// Degrade to absent rather than guessing.
		resLog.Debug("resolve_relative_path", slog.String("path", path))
		return Resolution{Path: norm, Present: false, Source: SourceNone}
	}

	v, _, _ := r.sf.Do(norm, func() (any, error) {
		return r.resolve(norm), nil
	})
	return v.(Resolution)
}

func (r *Resolver) resolve(path string) Resolution {
	now := r.now()

	// Signal 1: a live lock is the strongest claim that an agent is
	// present at the path.
	lock, err := r.locks.FindLockForPath(path)
	if err != nil {
		resLog.Warn("lock_scan_failed", slog.String("error", err.Error()))
	}
	if lock != nil {
		res := Resolution{Path: path, Present: true, Source: SourceLock, PID: lock.PID}
		if rec := r.recordForLock(lock, path); rec != nil {
			res.SessionID = rec.SessionID
			res.UpdatedAt = rec.UpdatedTime()
			res.State = r.effectiveState(rec, now)
			return res
		}
		// Lock but no record: hooks were lost or never installed. The
		// lock proves a process is present, nothing more.
		res.State = sessionstore.StateReady
		return res
	}

	// Signal 2: a recently touched record claims the path even without
	// a lock (lock sweep races, older agent versions).
	if rec := r.newestRecordForPath(path); rec != nil {
		if rec.Age(now) <= r.cfg.RecencyWindow() {
			return Resolution{
				Path:      path,
				Present:   true,
				State:     r.effectiveState(rec, now),
				SessionID: rec.SessionID,
				PID:       rec.PID,
				Source:    SourceRecord,
				UpdatedAt: rec.UpdatedTime(),
			}
		}
	}

	// Signal 3: recent file churn under a project root suggests an
	// untracked session.
	if r.tracker != nil && r.tracker.IsProjectRoot(path) && r.tracker.HasRecentActivity(path) {
		return Resolution{Path: path, Present: true, State: sessionstore.StateWorking, Source: SourceActivity}
	}

	return Resolution{Path: path, Present: false, Source: SourceNone}
}

// recordForLock finds the session record backing a lock: by session ID
// when the lock carries one, otherwise by exact project dir match.
func (r *Resolver) recordForLock(lock *lockstore.LockInfo, path string) *sessionstore.SessionRecord {
	if lock.SessionID != "" {
		if rec := r.store.Get(lock.SessionID); rec != nil {
			return rec
		}
	}
	return r.newestRecordForPath(path)
}

func (r *Resolver) newestRecordForPath(path string) *sessionstore.SessionRecord {
	recs := r.store.FindByProjectDir(path)
	if len(recs) == 0 {
		return nil
	}
	return recs[0]
}

// effectiveState applies the staleness and quietness rules to a
// record's raw state.
//
// Working and Waiting are trusted only within the short active
// horizon; past it the busy claim is treated as having silently
// finished and demotes to Ready. Compacting is exempt from that
// horizon because compaction emits no hook events while it runs. A
// busy record that survives the horizon check is then tested for
// quietness: a transcript silent past the quiet window, with no
// subagents in flight and no tool call sitting between its Pre and
// Post hooks, means the terminal most likely sits at a prompt whose
// Stop event was lost.
func (r *Resolver) effectiveState(rec *sessionstore.SessionRecord, now time.Time) sessionstore.SessionState {
	switch rec.State {
	case sessionstore.StateWorking, sessionstore.StateWaiting:
		if rec.StaleFor(r.cfg.ActiveStaleness(), now) {
			return sessionstore.StateReady
		}
	case sessionstore.StateCompacting:
	default:
		return rec.State
	}

	// The quietness downshift applies only to Working and Compacting.
	if rec.State == sessionstore.StateWaiting {
		return sessionstore.StateWaiting
	}
	if rec.SubagentCount > 0 {
		return rec.State
	}
	if rec.LastEvent == string(hookevent.PreToolUse) {
		// Hooks only fire at tool boundaries; a long-running tool is
		// legitimately silent between its Pre and Post events.
		return rec.State
	}
	if r.transcriptQuiet(rec, now) {
		return sessionstore.StateReady
	}
	return rec.State
}

// transcriptQuiet reports whether the session's transcript has gone
// unwritten for longer than the quiet window. A record with no
// transcript path falls back to its own update age.
func (r *Resolver) transcriptQuiet(rec *sessionstore.SessionRecord, now time.Time) bool {
	if rec.TranscriptPath != "" {
		if info, err := os.Stat(rec.TranscriptPath); err == nil {
			return now.Sub(info.ModTime()) > r.cfg.QuietWindow()
		}
	}
	return rec.StaleFor(r.cfg.QuietWindow(), now)
}

// SessionView is one entry in the active-sessions listing.
type SessionView struct {
	SessionID  string                    `json:"session_id"`
	State      sessionstore.SessionState `json:"state"`
	ProjectDir string                    `json:"project_dir"`
	PID        int                       `json:"pid,omitempty"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// ListSessions returns every known record with its effective state,
// newest first.
func (r *Resolver) ListSessions() []SessionView {
	now := r.now()
	recs := r.store.List()
	out := make([]SessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionView{
			SessionID:  rec.SessionID,
			State:      r.effectiveState(rec, now),
			ProjectDir: rec.ProjectDir,
			PID:        rec.PID,
			UpdatedAt:  rec.UpdatedTime(),
		})
	}
	return out
}

// Health summarizes the resolver's data sources.
type Health struct {
	Sessions   int       `json:"sessions"`
	LiveLocks  int       `json:"live_locks"`
	LastIngest time.Time `json:"last_ingest,omitempty"`
	Uptime     string    `json:"uptime"`
}

// CheckHealth reports store, lock, and journal status.
func (r *Resolver) CheckHealth() Health {
	h := Health{
		Sessions:  r.store.Count(),
		LiveLocks: r.locks.CountLive(),
		Uptime:    time.Since(r.startedAt).Round(time.Second).String(),
	}
	if r.journal != nil {
		if last, err := r.journal.LastIngest(); err == nil {
			h.LastIngest = last
		}
	}
	return h
}
