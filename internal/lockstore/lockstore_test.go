package lockstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-radar/internal/config"
)

// fakeProcess is an in-memory process table.
type fakeProcess struct {
	procs map[int]fakeProc
}

type fakeProc struct {
	startMs int64
	name    string
}

func (f *fakeProcess) Alive(pid int) bool {
	_, ok := f.procs[pid]
	return ok
}

func (f *fakeProcess) StartTime(pid int) (int64, error) {
	p, ok := f.procs[pid]
	if !ok {
		return 0, fmt.Errorf("process %d not found", pid)
	}
	return p.startMs, nil
}

func (f *fakeProcess) Name(pid int) (string, error) {
	p, ok := f.procs[pid]
	if !ok {
		return "", fmt.Errorf("process %d not found", pid)
	}
	return p.name, nil
}

// writeLock creates a lock directory the way the external agent does.
func writeLock(t *testing.T, baseDir, id string, meta lockMetadata) {
	t.Helper()
	dir := filepath.Join(baseDir, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, pidFileName), []byte(fmt.Sprintf("%d", meta.PID)), 0o644))
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFileName), data, 0o644))
}

func newTestStore(t *testing.T, procs map[int]fakeProc) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := New(dir, config.LockSettings{}, &fakeProcess{procs: procs})
	return store, dir
}

func TestScanEmptyAndMissingDir(t *testing.T) {
	store, _ := newTestStore(t, nil)
	locks, err := store.Scan()
	require.NoError(t, err)
	assert.Empty(t, locks)

	// Missing base dir means no locks, not an error.
	store = New(filepath.Join(t.TempDir(), "never-created"), config.LockSettings{}, &fakeProcess{})
	locks, err = store.Scan()
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestScanSkipsMalformedEntries(t *testing.T) {
	store, dir := newTestStore(t, map[int]fakeProc{100: {startMs: 1000}})

	writeLock(t, dir, "good", lockMetadata{PID: 100, Path: "/p", StartTime: 1000, CreatedAt: time.Now().Unix()})

	// Corrupt metadata
	badDir := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, metadataFileName), []byte("{not json"), 0o644))

	// Empty dir (vanished writer)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))

	// Stray file at top level
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644))

	locks, err := store.Scan()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "good", locks[0].ID)
}

func TestIsLiveFingerprintMatch(t *testing.T) {
	store, _ := newTestStore(t, map[int]fakeProc{1000: {startMs: 50_000}})

	live := LockInfo{PID: 1000, StartTime: 50_000}
	assert.True(t, store.IsLive(live))

	// Small rounding difference is tolerated.
	rounded := LockInfo{PID: 1000, StartTime: 50_900}
	assert.True(t, store.IsLive(rounded))
}

func TestIsLivePIDReuseDefense(t *testing.T) {
	// PID 1000 exists but was started at T2, lock recorded T1.
	store, _ := newTestStore(t, map[int]fakeProc{1000: {startMs: 9_000_000}})

	reused := LockInfo{PID: 1000, StartTime: 50_000}
	assert.False(t, store.IsLive(reused))
}

func TestIsLiveDeadProcess(t *testing.T) {
	store, _ := newTestStore(t, nil)
	assert.False(t, store.IsLive(LockInfo{PID: 4242, StartTime: 1}))
}

func TestLivenessIsMonotonicSafe(t *testing.T) {
	procs := map[int]fakeProc{}
	fake := &fakeProcess{procs: procs}
	store := New(t.TempDir(), config.LockSettings{}, fake)

	l := LockInfo{PID: 1000, StartTime: 77_000}
	assert.False(t, store.IsLive(l))

	// The same (pid, fingerprint) pair reappearing in the process table
	// must not resurrect the lock.
	procs[1000] = fakeProc{startMs: 77_000}
	assert.False(t, store.IsLive(l))
}

func TestLegacyLockVerifiedByNameAndExpiry(t *testing.T) {
	procs := map[int]fakeProc{500: {startMs: 1, name: "claude"}}
	store, _ := newTestStore(t, procs)

	fresh := LockInfo{PID: 500, CreatedAt: time.Now().Add(-time.Hour)}
	assert.True(t, store.IsLive(fresh), "legacy lock with matching name inside expiry")

	expired := LockInfo{PID: 500, CreatedAt: time.Now().Add(-25 * time.Hour)}
	assert.False(t, store.IsLive(expired), "legacy lock past 24h expiry")

	procs[501] = fakeProc{startMs: 1, name: "vim"}
	wrongName := LockInfo{PID: 501, CreatedAt: time.Now().Add(-time.Hour)}
	assert.False(t, store.IsLive(wrongName), "legacy lock owned by unrelated process")
}

func TestFindLockForPathExactMatchOnly(t *testing.T) {
	now := time.Now().Unix()
	store, dir := newTestStore(t, map[int]fakeProc{
		100: {startMs: 1000},
	})
	writeLock(t, dir, "pkga", lockMetadata{PID: 100, Path: "/repo/packages/a", StartTime: 1000, CreatedAt: now})

	// Exact path matches.
	found, err := store.FindLockForPath("/repo/packages/a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "pkga", found.ID)

	// Trailing slash is normalized away.
	found, err = store.FindLockForPath("/repo/packages/a/")
	require.NoError(t, err)
	assert.NotNil(t, found)

	// Parent does not inherit the child's lock, nor vice versa.
	found, err = store.FindLockForPath("/repo")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = store.FindLockForPath("/repo/packages/a/sub")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindLockForPathPrefersNewestLive(t *testing.T) {
	store, dir := newTestStore(t, map[int]fakeProc{
		100: {startMs: 1000},
		200: {startMs: 2000},
	})

	old := time.Now().Add(-time.Hour)
	newer := time.Now().Add(-time.Minute)
	writeLock(t, dir, "older", lockMetadata{PID: 100, Path: "/p", StartTime: 1000, CreatedAt: old.Unix()})
	// Newer lock written in milliseconds by a current writer version.
	writeLock(t, dir, "newer", lockMetadata{PID: 200, Path: "/p", StartTime: 2000, CreatedAt: newer.UnixMilli()})

	found, err := store.FindLockForPath("/p")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "newer", found.ID, "mixed sec/ms timestamps must compare by wall clock")
}

func TestFindLockForPathSkipsDeadLocks(t *testing.T) {
	store, dir := newTestStore(t, map[int]fakeProc{
		100: {startMs: 1000},
	})

	writeLock(t, dir, "dead", lockMetadata{PID: 999, Path: "/p", StartTime: 1, CreatedAt: time.Now().Unix()})
	writeLock(t, dir, "live", lockMetadata{PID: 100, Path: "/p", StartTime: 1000, CreatedAt: time.Now().Add(-time.Hour).Unix()})

	found, err := store.FindLockForPath("/p")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "live", found.ID, "an older live lock beats a newer dead one")
}

func TestReleaseIsIdempotent(t *testing.T) {
	store, dir := newTestStore(t, nil)
	writeLock(t, dir, "l1", lockMetadata{PID: 1, Path: "/p", CreatedAt: time.Now().Unix()})

	l := LockInfo{ID: "l1", Dir: filepath.Join(dir, "l1")}
	require.NoError(t, store.Release(l))
	require.NoError(t, store.Release(l), "releasing an already-gone lock is not an error")
}

func TestSweepDeadLeavesLiveAndYoung(t *testing.T) {
	store, dir := newTestStore(t, map[int]fakeProc{100: {startMs: 1000}})

	writeLock(t, dir, "live", lockMetadata{PID: 100, Path: "/p", StartTime: 1000, CreatedAt: time.Now().Add(-48 * time.Hour).Unix()})
	writeLock(t, dir, "dead-old", lockMetadata{PID: 900, Path: "/p", StartTime: 1, CreatedAt: time.Now().Add(-48 * time.Hour).Unix()})
	writeLock(t, dir, "dead-young", lockMetadata{PID: 901, Path: "/p", StartTime: 1, CreatedAt: time.Now().Unix()})

	removed := store.SweepDead(24 * time.Hour)
	assert.Equal(t, 1, removed)

	locks, err := store.Scan()
	require.NoError(t, err)
	ids := make([]string, 0, len(locks))
	for _, l := range locks {
		ids = append(ids, l.ID)
	}
	assert.ElementsMatch(t, []string{"live", "dead-young"}, ids)
}

func TestNormalizeTimestampMagnitude(t *testing.T) {
	secs := int64(1_700_000_000)
	ms := int64(1_700_000_000_000)

	fromSecs := normalizeTimestamp(secs)
	fromMs := normalizeTimestamp(ms)
	assert.Equal(t, fromSecs, fromMs, "same instant in secs and ms must normalize equal")
	assert.True(t, normalizeTimestamp(0).IsZero())
}

func TestCountLive(t *testing.T) {
	store, dir := newTestStore(t, map[int]fakeProc{100: {startMs: 1000}})
	writeLock(t, dir, "live", lockMetadata{PID: 100, Path: "/a", StartTime: 1000, CreatedAt: time.Now().Unix()})
	writeLock(t, dir, "dead", lockMetadata{PID: 999, Path: "/b", StartTime: 1, CreatedAt: time.Now().Unix()})
	assert.Equal(t, 1, store.CountLive())
}
