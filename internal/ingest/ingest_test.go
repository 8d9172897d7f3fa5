package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-radar/internal/config"
	"github.com/asheshgoplani/agent-radar/internal/hookevent"
	"github.com/asheshgoplani/agent-radar/internal/sessionstore"
)

func newTestIngestor(t *testing.T) (*Ingestor, *sessionstore.Store) {
	t.Helper()
	store := sessionstore.New(filepath.Join(t.TempDir(), "sessions.json"))
	return New(store, nil, config.ResolverSettings{}), store
}

func apply(t *testing.T, in *Ingestor, ev hookevent.Event) Outcome {
	t.Helper()
	out, err := in.Apply(ev)
	require.NoError(t, err)
	return out
}

func TestSessionLifecycle(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "lifecycle-1"

	assert.Equal(t, OutcomeApplied, apply(t, in, hookevent.Event{
		Name: hookevent.SessionStart, SessionID: sid, CWD: "/repo",
	}))
	r := store.Get(sid)
	require.NotNil(t, r)
	assert.Equal(t, sessionstore.StateReady, r.State)
	assert.Equal(t, "/repo", r.ProjectDir)

	apply(t, in, hookevent.Event{Name: hookevent.UserPromptSubmit, SessionID: sid, CWD: "/repo"})
	assert.Equal(t, sessionstore.StateWorking, store.Get(sid).State)

	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo", Tool: "Bash"})
	assert.Equal(t, sessionstore.StateWorking, store.Get(sid).State)

	apply(t, in, hookevent.Event{Name: hookevent.PermissionRequest, SessionID: sid, CWD: "/repo"})
	assert.Equal(t, sessionstore.StateWaiting, store.Get(sid).State)

	apply(t, in, hookevent.Event{Name: hookevent.PostToolUse, SessionID: sid, CWD: "/repo", Tool: "Bash"})
	assert.Equal(t, sessionstore.StateWorking, store.Get(sid).State)

	apply(t, in, hookevent.Event{Name: hookevent.Stop, SessionID: sid, CWD: "/repo"})
	assert.Equal(t, sessionstore.StateReady, store.Get(sid).State)

	assert.Equal(t, OutcomeDeleted, apply(t, in, hookevent.Event{
		Name: hookevent.SessionEnd, SessionID: sid,
	}))
	assert.Nil(t, store.Get(sid))
}

func TestStopWithActiveStopHookKeepsState(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "s1"

	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo"})
	apply(t, in, hookevent.Event{Name: hookevent.Stop, SessionID: sid, StopHookActive: true})
	assert.Equal(t, sessionstore.StateWorking, store.Get(sid).State,
		"stop fired inside a stop hook must not end the turn")

	apply(t, in, hookevent.Event{Name: hookevent.Stop, SessionID: sid})
	assert.Equal(t, sessionstore.StateReady, store.Get(sid).State)
}

func TestPreCompactAllTriggers(t *testing.T) {
	in, store := newTestIngestor(t)

	for _, trigger := range []string{"manual", "auto", ""} {
		sid := "compact-" + trigger
		apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo"})
		apply(t, in, hookevent.Event{Name: hookevent.PreCompact, SessionID: sid, CompactTrigger: trigger})
		assert.Equal(t, sessionstore.StateCompacting, store.Get(sid).State, "trigger %q", trigger)
	}
}

func TestTombstoneSuppressesLateEvents(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "ended"

	apply(t, in, hookevent.Event{Name: hookevent.SessionStart, SessionID: sid, CWD: "/repo"})
	apply(t, in, hookevent.Event{Name: hookevent.SessionEnd, SessionID: sid})

	// Straggler events after SessionEnd must not resurrect the record.
	for _, name := range []hookevent.Name{
		hookevent.PreToolUse, hookevent.PostToolUse, hookevent.Stop,
		hookevent.Notification, hookevent.PreCompact, hookevent.SubagentStop,
	} {
		out := apply(t, in, hookevent.Event{Name: name, SessionID: sid, CWD: "/repo"})
		assert.Equal(t, OutcomeSuppressed, out, "event %s", name)
		assert.Nil(t, store.Get(sid))
	}
}

func TestSessionStartRevivesTombstonedID(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "reused"

	apply(t, in, hookevent.Event{Name: hookevent.SessionStart, SessionID: sid, CWD: "/repo"})
	apply(t, in, hookevent.Event{Name: hookevent.SessionEnd, SessionID: sid})

	out := apply(t, in, hookevent.Event{Name: hookevent.SessionStart, SessionID: sid, CWD: "/repo2"})
	assert.Equal(t, OutcomeApplied, out)

	r := store.Get(sid)
	require.NotNil(t, r)
	assert.Equal(t, sessionstore.StateReady, r.State)
	assert.Equal(t, "/repo2", r.ProjectDir)

	// And normal events flow again.
	out = apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo2"})
	assert.Equal(t, OutcomeApplied, out)
}

func TestNotificationKinds(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "notif"

	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo"})

	apply(t, in, hookevent.Event{
		Name: hookevent.Notification, SessionID: sid,
		Message: "Claude needs your permission to use Bash",
	})
	assert.Equal(t, sessionstore.StateWaiting, store.Get(sid).State)

	apply(t, in, hookevent.Event{
		Name: hookevent.Notification, SessionID: sid,
		Message: "Claude is waiting for your input",
	})
	assert.Equal(t, sessionstore.StateReady, store.Get(sid).State)

	// Informational notification touches but does not transition.
	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo"})
	apply(t, in, hookevent.Event{
		Name: hookevent.Notification, SessionID: sid,
		Message: "Session resumed from checkpoint",
	})
	assert.Equal(t, sessionstore.StateWorking, store.Get(sid).State)
}

func TestSubagentCounting(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "subagents"

	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo", Tool: "Task"})
	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo", Tool: "Task"})
	assert.Equal(t, 2, store.Get(sid).SubagentCount)

	// Non-Task tools do not count.
	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo", Tool: "Bash"})
	assert.Equal(t, 2, store.Get(sid).SubagentCount)

	apply(t, in, hookevent.Event{Name: hookevent.SubagentStop, SessionID: sid})
	apply(t, in, hookevent.Event{Name: hookevent.SubagentStop, SessionID: sid})
	assert.Equal(t, 0, store.Get(sid).SubagentCount)

	// The count never goes negative.
	apply(t, in, hookevent.Event{Name: hookevent.SubagentStop, SessionID: sid})
	assert.Equal(t, 0, store.Get(sid).SubagentCount)

	// A fresh SessionStart resets the count.
	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo", Tool: "Task"})
	apply(t, in, hookevent.Event{Name: hookevent.SessionStart, SessionID: sid, CWD: "/repo"})
	assert.Equal(t, 0, store.Get(sid).SubagentCount)
}

func TestCWDlessEventKeepsProjectDir(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "cwdless"

	apply(t, in, hookevent.Event{Name: hookevent.SessionStart, SessionID: sid, CWD: "/repo"})
	apply(t, in, hookevent.Event{Name: hookevent.Stop, SessionID: sid})
	assert.Equal(t, "/repo", store.Get(sid).ProjectDir)

	// A relative cwd is ignored too.
	apply(t, in, hookevent.Event{Name: hookevent.PreToolUse, SessionID: sid, CWD: "relative/path"})
	assert.Equal(t, "/repo", store.Get(sid).ProjectDir)
}

func TestCWDlessEventForUnseenSessionIsDropped(t *testing.T) {
	in, store := newTestIngestor(t)

	// With no way to associate the session to a project, the event
	// must not create an orphan record.
	out := apply(t, in, hookevent.Event{Name: hookevent.UserPromptSubmit, SessionID: "ghost"})
	assert.Equal(t, OutcomeIgnored, out)
	assert.Nil(t, store.Get("ghost"))
	assert.Equal(t, 0, store.Count())

	// Same for a relative cwd.
	out = apply(t, in, hookevent.Event{Name: hookevent.SessionStart, SessionID: "ghost", CWD: "rel/path"})
	assert.Equal(t, OutcomeIgnored, out)
	assert.Nil(t, store.Get("ghost"))
}

func TestApplyIsIdempotent(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "idem"

	ev := hookevent.Event{Name: hookevent.PreCompact, SessionID: sid, CWD: "/repo"}
	apply(t, in, ev)
	first := store.Get(sid)

	time.Sleep(5 * time.Millisecond)
	apply(t, in, ev)
	second := store.Get(sid)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.StateChangedAt, second.StateChangedAt,
		"re-applying the same event must not move state_changed_at")
}

func TestUnknownEventIsIgnored(t *testing.T) {
	in, store := newTestIngestor(t)

	out := apply(t, in, hookevent.Event{Name: hookevent.Unknown, SessionID: "s1", CWD: "/repo"})
	assert.Equal(t, OutcomeIgnored, out)
	assert.Nil(t, store.Get("s1"))
}

func TestPermissionModeAndTranscriptRecorded(t *testing.T) {
	in, store := newTestIngestor(t)
	const sid = "meta"

	apply(t, in, hookevent.Event{
		Name: hookevent.PreToolUse, SessionID: sid, CWD: "/repo",
		TranscriptPath: "/tmp/t.jsonl", PermissionMode: "plan",
	})
	r := store.Get(sid)
	assert.Equal(t, "/tmp/t.jsonl", r.TranscriptPath)
	assert.Equal(t, "plan", r.PermissionMode)
	assert.Equal(t, "PreToolUse", r.LastEvent)
}
