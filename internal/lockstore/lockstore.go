package lockstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-radar/internal/config"
	"github.com/asheshgoplani/agent-radar/internal/logging"
	"github.com/asheshgoplani/agent-radar/internal/pathutil"
)

var lockLog = logging.ForComponent(logging.CompLocks)

const (
	pidFileName      = "pid.lock"
	metadataFileName = "metadata.json"
)

// startTimeTolerance absorbs rounding between the writer's recorded
// fingerprint and the kernel's reported creation time (jiffies vs ms).
const startTimeTolerance = 2 * time.Second

// LockInfo describes one lock directory: the external agent's assertion
// that process PID is working at Path.
type LockInfo struct {
	// ID is the lock directory name.
	ID string

	// Dir is the absolute path of the lock directory.
	Dir string

	// PID is the owning agent process.
	PID int

	// Path is the project path the lock asserts, as recorded by the writer.
	Path string

	// SessionID links the lock to a session record, when the writer knew it.
	SessionID string

	// StartTime is the owning process's creation time in unix
	// milliseconds. Zero means a legacy lock with no fingerprint.
	StartTime int64

	// CreatedAt is when the lock was created.
	CreatedAt time.Time
}

// Legacy reports whether this lock predates start-time fingerprinting.
func (l LockInfo) Legacy() bool { return l.StartTime == 0 }

// lockMetadata is the on-disk metadata.json layout. CreatedAt has been
// written in seconds by old writers and milliseconds by current ones.
type lockMetadata struct {
	PID       int    `json:"pid"`
	Path      string `json:"path"`
	SessionID string `json:"session_id,omitempty"`
	StartTime int64  `json:"process_start_ms,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Store reads and verifies lock directories. The directory is written
// by external agent processes; this store never creates or mutates
// locks that belong to them, only reads, verifies, and (for hygiene)
// removes dead ones.
type Store struct {
	dir  string
	cfg  config.LockSettings
	proc ProcessInfo

	// dead remembers (pid, fingerprint) pairs that have been observed
	// dead. Liveness is monotonic: once dead, a pair never comes back,
	// even if the PID is recycled.
	mu   sync.Mutex
	dead map[string]struct{}
}

// New creates a lock store over dir. A nil proc uses the real OS
// process table.
func New(dir string, cfg config.LockSettings, proc ProcessInfo) *Store {
	if cfg.Dir != "" {
		dir = cfg.Dir
	}
	if proc == nil {
		proc = OSProcessInfo()
	}
	return &Store{
		dir:  dir,
		cfg:  cfg,
		proc: proc,
		dead: make(map[string]struct{}),
	}
}

// Dir returns the lock directory this store scans.
func (s *Store) Dir() string { return s.dir }

// Scan reads every lock directory under the base dir. Malformed entries
// are skipped; entries vanishing mid-scan are skipped. An error is
// returned only when the base directory itself cannot be read (and it
// missing entirely just means no locks).
func (s *Store) Scan() ([]LockInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock dir: %w", err)
	}

	var locks []LockInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, ok := s.readLock(entry.Name())
		if !ok {
			continue
		}
		locks = append(locks, info)
	}
	return locks, nil
}

// readLock loads one lock directory. Returns ok=false for anything
// malformed or racing an external removal.
func (s *Store) readLock(name string) (LockInfo, bool) {
	dir := filepath.Join(s.dir, name)

	meta, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		// Vanished mid-scan or never finished being written.
		return LockInfo{}, false
	}

	var m lockMetadata
	if err := json.Unmarshal(meta, &m); err != nil {
		lockLog.Warn("lock_metadata_malformed", slog.String("lock", name), slog.String("error", err.Error()))
		return LockInfo{}, false
	}

	pid := m.PID
	if pid == 0 {
		// Fall back to pid.lock for writers that only record the PID there.
		if data, err := os.ReadFile(filepath.Join(dir, pidFileName)); err == nil {
			if parsed, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				pid = parsed
			}
		}
	}
	if pid <= 0 || m.Path == "" {
		lockLog.Warn("lock_metadata_incomplete", slog.String("lock", name))
		return LockInfo{}, false
	}

	return LockInfo{
		ID:        name,
		Dir:       dir,
		PID:       pid,
		Path:      m.Path,
		SessionID: m.SessionID,
		StartTime: m.StartTime,
		CreatedAt: normalizeTimestamp(m.CreatedAt),
	}, true
}

// IsLive applies the verification invariant: the recorded PID exists
// and its process-start-time matches the fingerprint recorded at lock
// creation. Legacy locks (no fingerprint) are verified by process name
// plus an absolute expiry instead. Never errors: anything unverifiable
// is dead.
func (s *Store) IsLive(l LockInfo) bool {
	key := fmt.Sprintf("%d:%d", l.PID, l.StartTime)

	s.mu.Lock()
	_, known := s.dead[key]
	s.mu.Unlock()
	if known {
		return false
	}

	live := s.verify(l)
	if !live {
		s.mu.Lock()
		s.dead[key] = struct{}{}
		s.mu.Unlock()
	}
	return live
}

func (s *Store) verify(l LockInfo) bool {
	if !s.proc.Alive(l.PID) {
		return false
	}

	if l.Legacy() {
		// Name check defends against PID reuse by an unrelated process;
		// the absolute expiry bounds how long that defense is trusted.
		if time.Since(l.CreatedAt) > s.cfg.LegacyExpiry() {
			return false
		}
		name, err := s.proc.Name(l.PID)
		if err != nil {
			return false
		}
		for _, accepted := range s.cfg.GetProcessNames() {
			if strings.EqualFold(name, accepted) {
				return true
			}
		}
		return false
	}

	started, err := s.proc.StartTime(l.PID)
	if err != nil {
		// Process exited between Alive and StartTime.
		return false
	}
	diff := started - l.StartTime
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff)*time.Millisecond <= startTimeTolerance
}

// FindLockForPath returns the newest live lock whose recorded path
// exactly matches the query path. Ancestor and descendant paths never
// match. Returns nil when no live lock exists.
func (s *Store) FindLockForPath(path string) (*LockInfo, error) {
	locks, err := s.Scan()
	if err != nil {
		return nil, err
	}

	var newest *LockInfo
	for i := range locks {
		l := locks[i]
		if !pathutil.Equal(l.Path, path) {
			continue
		}
		if !s.IsLive(l) {
			continue
		}
		if newest == nil || l.CreatedAt.After(newest.CreatedAt) {
			newest = &l
		}
	}
	return newest, nil
}

// Release removes a lock directory. Idempotent: a lock already gone is
// not an error.
func (s *Store) Release(l LockInfo) error {
	err := os.RemoveAll(l.Dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.ID, err)
	}
	return nil
}

// SweepDead removes lock directories whose process is dead and whose
// creation time is older than minAge. Disk hygiene only; correctness
// never depends on reaping. Returns the number of directories removed.
func (s *Store) SweepDead(minAge time.Duration) int {
	locks, err := s.Scan()
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-minAge)
	for _, l := range locks {
		if s.IsLive(l) {
			continue
		}
		if l.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.Release(l); err != nil {
			lockLog.Warn("lock_sweep_failed", slog.String("lock", l.ID), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	if removed > 0 {
		lockLog.Info("dead_locks_swept", slog.Int("removed", removed))
	}
	return removed
}

// CountLive returns how many locks currently verify as live. Used by
// the health surface.
func (s *Store) CountLive() int {
	locks, err := s.Scan()
	if err != nil {
		return 0
	}
	n := 0
	for _, l := range locks {
		if s.IsLive(l) {
			n++
		}
	}
	return n
}

// normalizeTimestamp interprets a creation timestamp that different
// writer versions recorded in seconds or milliseconds. Anything with
// millisecond magnitude (>= 1e12, i.e. after Sep 2001 in ms) is treated
// as ms, everything else as seconds.
func normalizeTimestamp(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v >= 1_000_000_000_000 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
