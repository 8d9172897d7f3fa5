// Package sessionstore persists session records and tombstones in a
// single versioned JSON document. All mutation goes through one
// process-wide lock and lands on disk via write-to-temp-then-rename, so
// a reader never observes a torn file.
package sessionstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-radar/internal/logging"
	"github.com/asheshgoplani/agent-radar/internal/pathutil"
)

var storeLog = logging.ForComponent(logging.CompStore)

// SessionState is the resolved activity state of a session.
type SessionState string

const (
	StateReady      SessionState = "ready"
	StateWorking    SessionState = "working"
	StateWaiting    SessionState = "waiting"
	StateCompacting SessionState = "compacting"
	StateIdle       SessionState = "idle"
)

// Valid reports whether s is one of the known states.
func (s SessionState) Valid() bool {
	switch s {
	case StateReady, StateWorking, StateWaiting, StateCompacting, StateIdle:
		return true
	}
	return false
}

// SessionRecord is one tracked agent session. Timestamps are unix
// milliseconds on disk; old documents stored seconds and are migrated
// on load.
type SessionRecord struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	ProjectDir     string       `json:"project_dir"`
	PID            int          `json:"pid,omitempty"`
	UpdatedAt      int64        `json:"updated_at"`
	StateChangedAt int64        `json:"state_changed_at"`
	LastEvent      string       `json:"last_event,omitempty"`
	TranscriptPath string       `json:"transcript_path,omitempty"`
	SubagentCount  int          `json:"subagent_count,omitempty"`
	PermissionMode string       `json:"permission_mode,omitempty"`
}

// UpdatedTime returns the record's last-touch time.
func (r *SessionRecord) UpdatedTime() time.Time {
	return normalizeTimestamp(r.UpdatedAt)
}

// StateChangedTime returns when the record last changed state.
func (r *SessionRecord) StateChangedTime() time.Time {
	return normalizeTimestamp(r.StateChangedAt)
}

// Age is how long since the record was last touched.
func (r *SessionRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedTime())
}

// StaleFor reports whether the record has gone untouched strictly
// longer than horizon.
func (r *SessionRecord) StaleFor(horizon time.Duration, now time.Time) bool {
	return r.Age(now) > horizon
}

// Active reports whether the record's state claims in-flight work.
func (r *SessionRecord) Active() bool {
	return r.State == StateWorking || r.State == StateCompacting
}

const currentVersion = 2

// document is the on-disk layout.
type document struct {
	Version    int                       `json:"version"`
	Records    map[string]*SessionRecord `json:"records"`
	Tombstones map[string]int64          `json:"tombstones,omitempty"`
}

func emptyDocument() *document {
	return &document{
		Version:    currentVersion,
		Records:    make(map[string]*SessionRecord),
		Tombstones: make(map[string]int64),
	}
}

// storeMu serializes every read-modify-write cycle across the process.
// Multiple Store values over the same path (hook handler plus server in
// one process) still interleave safely.
var storeMu sync.Mutex

// Store is a handle on one sessions document.
type Store struct {
	path string
}

// New creates a store persisting to path. The file is created lazily on
// first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// load reads and migrates the document. A missing file yields an empty
// document; a corrupt file is logged and replaced by an empty one
// rather than wedging every caller.
func (s *Store) load() *document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			storeLog.Warn("store_read_failed", slog.String("error", err.Error()))
		}
		return emptyDocument()
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		storeLog.Error("store_corrupt", slog.String("path", s.path), slog.String("error", err.Error()))
		return emptyDocument()
	}
	migrate(&doc)
	return &doc
}

// migrate upgrades older document versions in place.
func migrate(doc *document) {
	if doc.Records == nil {
		doc.Records = make(map[string]*SessionRecord)
	}
	if doc.Tombstones == nil {
		doc.Tombstones = make(map[string]int64)
	}
	if doc.Version < 2 {
		// v1 stored timestamps in seconds.
		for _, r := range doc.Records {
			r.UpdatedAt = toMillis(r.UpdatedAt)
			r.StateChangedAt = toMillis(r.StateChangedAt)
		}
		for id, ts := range doc.Tombstones {
			doc.Tombstones[id] = toMillis(ts)
		}
	}
	doc.Version = currentVersion
}

// save writes the document atomically next to its final location.
func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace sessions file: %w", err)
	}
	return nil
}

// Get returns a copy of the record for sessionID, or nil.
func (s *Store) Get(sessionID string) *SessionRecord {
	storeMu.Lock()
	defer storeMu.Unlock()

	r, ok := s.load().Records[sessionID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// List returns copies of all records, newest-updated first.
func (s *Store) List() []*SessionRecord {
	storeMu.Lock()
	defer storeMu.Unlock()

	doc := s.load()
	out := make([]*SessionRecord, 0, len(doc.Records))
	for _, r := range doc.Records {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

// FindByProjectDir returns copies of records whose project dir exactly
// matches dir, newest-updated first.
func (s *Store) FindByProjectDir(dir string) []*SessionRecord {
	all := s.List()
	out := all[:0]
	for _, r := range all {
		if pathutil.Equal(r.ProjectDir, dir) {
			out = append(out, r)
		}
	}
	return out
}

// Update applies fn to the record for sessionID inside the store lock,
// creating the record if absent, then persists. fn may return false to
// abort without writing. UpdatedAt is stamped after fn; StateChangedAt
// is stamped only when fn changed the state.
func (s *Store) Update(sessionID string, fn func(r *SessionRecord) bool) error {
	storeMu.Lock()
	defer storeMu.Unlock()

	doc := s.load()
	r, ok := doc.Records[sessionID]
	if !ok {
		r = &SessionRecord{SessionID: sessionID, State: StateReady}
		doc.Records[sessionID] = r
	}

	before := r.State
	if !fn(r) {
		return nil
	}

	now := time.Now().UnixMilli()
	r.UpdatedAt = now
	if r.StateChangedAt == 0 || r.State != before {
		r.StateChangedAt = now
	}
	return s.save(doc)
}

// Delete removes the record for sessionID and, when tombstone is true,
// leaves a tombstone so late-arriving events for the session are
// suppressed. Deleting an absent record is not an error.
func (s *Store) Delete(sessionID string, tombstone bool) error {
	storeMu.Lock()
	defer storeMu.Unlock()

	doc := s.load()
	_, existed := doc.Records[sessionID]
	delete(doc.Records, sessionID)
	if tombstone {
		doc.Tombstones[sessionID] = time.Now().UnixMilli()
	}
	if !existed && !tombstone {
		return nil
	}
	return s.save(doc)
}

// IsTombstoned reports whether sessionID has an unexpired tombstone.
func (s *Store) IsTombstoned(sessionID string, grace time.Duration) bool {
	storeMu.Lock()
	defer storeMu.Unlock()

	ts, ok := s.load().Tombstones[sessionID]
	if !ok {
		return false
	}
	return time.Since(normalizeTimestamp(ts)) <= grace
}

// ClearTombstone removes the tombstone for sessionID, if any. Used when
// a new session legitimately starts under a tombstoned ID.
func (s *Store) ClearTombstone(sessionID string) error {
	storeMu.Lock()
	defer storeMu.Unlock()

	doc := s.load()
	if _, ok := doc.Tombstones[sessionID]; !ok {
		return nil
	}
	delete(doc.Tombstones, sessionID)
	return s.save(doc)
}

// PruneTombstones drops tombstones older than grace. Returns how many
// were removed.
func (s *Store) PruneTombstones(grace time.Duration) (int, error) {
	storeMu.Lock()
	defer storeMu.Unlock()

	doc := s.load()
	removed := 0
	for id, ts := range doc.Tombstones {
		if time.Since(normalizeTimestamp(ts)) > grace {
			delete(doc.Tombstones, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(doc)
}

// PruneStale removes records untouched for longer than horizon. Returns
// how many were removed.
func (s *Store) PruneStale(horizon time.Duration) (int, error) {
	storeMu.Lock()
	defer storeMu.Unlock()

	doc := s.load()
	now := time.Now()
	removed := 0
	for id, r := range doc.Records {
		if r.StaleFor(horizon, now) {
			delete(doc.Records, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if removed > 0 {
		storeLog.Info("stale_records_pruned", slog.Int("removed", removed))
	}
	return removed, s.save(doc)
}

// Count returns the number of records on disk.
func (s *Store) Count() int {
	storeMu.Lock()
	defer storeMu.Unlock()
	return len(s.load().Records)
}

func toMillis(v int64) int64 {
	if v <= 0 {
		return 0
	}
	if v >= 1_000_000_000_000 {
		return v
	}
	return v * 1000
}

// normalizeTimestamp accepts seconds or milliseconds and returns the
// instant. Magnitude decides: values at or above 1e12 are milliseconds.
func normalizeTimestamp(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v >= 1_000_000_000_000 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
