// Package journal keeps an append-only SQLite log of ingested hook
// events. The resolver never reads it on the hot path; it exists for
// the health surface and for debugging state disagreements after the
// fact.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/agent-radar/internal/hookevent"
)

// SchemaVersion tracks the current journal schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Journal wraps the SQLite event log. Thread-safe within one process;
// multiple OS processes interleave safely via WAL mode + busy timeout.
type Journal struct {
	db *sql.DB
}

// Entry is one logged event.
type Entry struct {
	ID         string
	SessionID  string
	Event      string
	ProjectDir string
	Outcome    string
	ReceivedAt time.Time
}

// Open creates or opens the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: busy timeout: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("journal: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			event       TEXT NOT NULL,
			project_dir TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL DEFAULT '',
			received_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("journal: create events: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, received_at)
	`); err != nil {
		return fmt.Errorf("journal: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("journal: set schema version: %w", err)
	}

	return tx.Commit()
}

// Append records one ingested event and the outcome the state machine
// chose for it ("applied", "suppressed", "ignored", ...).
func (j *Journal) Append(ev hookevent.Event, outcome string) error {
	_, err := j.db.Exec(`
		INSERT INTO events (id, session_id, event, project_dir, outcome, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), ev.SessionID, string(ev.Name), ev.CWD, outcome, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// LastIngest returns when the most recent event was logged. Zero time
// when the journal is empty.
func (j *Journal) LastIngest() (time.Time, error) {
	var ms sql.NullInt64
	err := j.db.QueryRow("SELECT MAX(received_at) FROM events").Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("journal: last ingest: %w", err)
	}
	if !ms.Valid || ms.Int64 == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms.Int64), nil
}

// CountByEvent returns how many entries exist per event name.
func (j *Journal) CountByEvent() (map[string]int, error) {
	rows, err := j.db.Query("SELECT event, COUNT(*) FROM events GROUP BY event")
	if err != nil {
		return nil, fmt.Errorf("journal: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var event string
		var n int
		if err := rows.Scan(&event, &n); err != nil {
			return nil, fmt.Errorf("journal: scan count: %w", err)
		}
		counts[event] = n
	}
	return counts, rows.Err()
}

// Recent returns the newest entries for a session, newest first.
func (j *Journal) Recent(sessionID string, limit int) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, session_id, event, project_dir, outcome, received_at
		FROM events WHERE session_id = ?
		ORDER BY received_at DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.ProjectDir, &e.Outcome, &ms); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than retention. Returns how many rows
// were removed.
func (j *Journal) Prune(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := j.db.Exec("DELETE FROM events WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
