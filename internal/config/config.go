package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the TOML config file for user preferences.
const ConfigFileName = "config.toml"

// Paths holds the on-disk layout for one agent-radar data directory.
// Passed explicitly into stores and the resolver instead of being read
// from package globals, so tests can point everything at a temp dir.
type Paths struct {
	// BaseDir is the data directory, normally ~/.agent-radar.
	BaseDir string
}

// DefaultPaths resolves the data directory from AGENTRADAR_DIR or the
// user's home directory.
func DefaultPaths() (Paths, error) {
	if dir := os.Getenv("AGENTRADAR_DIR"); dir != "" {
		return Paths{BaseDir: dir}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return Paths{BaseDir: filepath.Join(home, ".agent-radar")}, nil
}

// LocksDir is where the external agent process creates lock directories.
func (p Paths) LocksDir() string { return filepath.Join(p.BaseDir, "locks") }

// StorePath is the session record store document.
func (p Paths) StorePath() string { return filepath.Join(p.BaseDir, "sessions.json") }

// JournalPath is the SQLite event journal.
func (p Paths) JournalPath() string { return filepath.Join(p.BaseDir, "journal.db") }

// ConfigPath is the user config file.
func (p Paths) ConfigPath() string { return filepath.Join(p.BaseDir, ConfigFileName) }

// LogDir is where debug logs are written.
func (p Paths) LogDir() string { return p.BaseDir }

// Config represents user-facing configuration in TOML format.
// Every staleness/recency horizon the resolver applies is policy, not
// protocol: the defaults below were tuned empirically and can be
// overridden per install.
type Config struct {
	Resolver ResolverSettings `toml:"resolver"`
	Locks    LockSettings     `toml:"locks"`
	Activity ActivitySettings `toml:"activity"`
	Journal  JournalSettings  `toml:"journal"`
	Logs     LogSettings      `toml:"logs"`
	Web      WebSettings      `toml:"web"`
}

// ResolverSettings tunes the state resolution horizons.
type ResolverSettings struct {
	// ActiveStalenessSecs is how old a Working/Waiting record may be
	// before it is treated as silently finished (default: 30).
	// Compacting records are exempt.
	ActiveStalenessSecs int `toml:"active_staleness_secs"`

	// RecencyWindowSecs is how recently a record must have been touched
	// to count when no live lock backs it (default: 120).
	RecencyWindowSecs int `toml:"recency_window_secs"`

	// QuietWindowSecs is how long the transcript may be silent before a
	// busy state is downshifted to ready (default: 600).
	QuietWindowSecs int `toml:"quiet_window_secs"`

	// TombstoneGraceSecs is how long after SessionEnd late events for
	// the same session are dropped (default: 60).
	TombstoneGraceSecs int `toml:"tombstone_grace_secs"`
}

// LockSettings tunes lock verification.
type LockSettings struct {
	// Dir overrides the lock directory (default: <base>/locks).
	Dir string `toml:"dir"`

	// LegacyExpiryHours is the absolute lifetime of locks that carry no
	// process-start-time fingerprint (default: 24).
	LegacyExpiryHours int `toml:"legacy_expiry_hours"`

	// ProcessNames are the executable names accepted when verifying a
	// legacy lock by name (default: ["claude"]).
	ProcessNames []string `toml:"process_names"`
}

// ActivitySettings tunes the file-modification fallback detector.
type ActivitySettings struct {
	// WindowSecs is how recent a file modification must be to report a
	// project as working (default: 90).
	WindowSecs int `toml:"window_secs"`

	// Markers are the files identifying a project root
	// (default: .git, go.mod, package.json, Cargo.toml, pyproject.toml).
	Markers []string `toml:"markers"`

	// SkipDirs are directory names never scanned
	// (default: .git, node_modules, vendor, target, dist, build, .venv).
	SkipDirs []string `toml:"skip_dirs"`

	// ScanRatePerSec caps full-tree rescans per second across all
	// projects (default: 4).
	ScanRatePerSec float64 `toml:"scan_rate_per_sec"`

	// MaxDepth bounds the rescan walk depth below the project root
	// (default: 6).
	MaxDepth int `toml:"max_depth"`

	// Watch enables fsnotify watching; when false (or unsupported on
	// the project's filesystem) the detector polls mtimes instead.
	// Default: true (pointer to distinguish "not set" from "explicitly false").
	Watch *bool `toml:"watch"`
}

// JournalSettings tunes the event journal.
type JournalSettings struct {
	// Enabled turns the SQLite event journal on (default: true).
	Enabled *bool `toml:"enabled"`

	// RetentionDays is how long journal rows are kept (default: 7).
	RetentionDays int `toml:"retention_days"`
}

// LogSettings defines debug log configuration.
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB for debug.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// Backups is the number of rotated debug.log files to keep
	// Default: 5
	Backups int `toml:"backups"`

	// RetentionDays is the number of days to keep rotated debug logs
	// Default: 10
	RetentionDays int `toml:"retention_days"`

	// Compress enables gzip compression for rotated debug logs
	// Default: true
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 10
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalS is the event aggregation flush interval in seconds
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// WebSettings defines the diagnostics server configuration.
type WebSettings struct {
	// ListenAddr is the bind address (default: 127.0.0.1:8430).
	ListenAddr string `toml:"listen_addr"`

	// Token, when set, is required as a Bearer token on every request.
	Token string `toml:"token"`

	// PushIntervalSecs is the websocket state snapshot cadence
	// (default: 2).
	PushIntervalSecs int `toml:"push_interval_secs"`
}

// --- duration getters with defaults applied ---

// ActiveStaleness returns the Working/Waiting staleness horizon.
func (r ResolverSettings) ActiveStaleness() time.Duration {
	return secsOr(r.ActiveStalenessSecs, 30*time.Second)
}

// RecencyWindow returns the lock-less record recency window.
func (r ResolverSettings) RecencyWindow() time.Duration {
	return secsOr(r.RecencyWindowSecs, 120*time.Second)
}

// QuietWindow returns the transcript quietness window.
func (r ResolverSettings) QuietWindow() time.Duration {
	return secsOr(r.QuietWindowSecs, 10*time.Minute)
}

// TombstoneGrace returns the post-termination suppression window.
func (r ResolverSettings) TombstoneGrace() time.Duration {
	return secsOr(r.TombstoneGraceSecs, 60*time.Second)
}

// LegacyExpiry returns the absolute lifetime of fingerprint-less locks.
func (l LockSettings) LegacyExpiry() time.Duration {
	if l.LegacyExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(l.LegacyExpiryHours) * time.Hour
}

// GetProcessNames returns accepted legacy process names with the default applied.
func (l LockSettings) GetProcessNames() []string {
	if len(l.ProcessNames) == 0 {
		return []string{"claude"}
	}
	return l.ProcessNames
}

// Window returns the activity freshness window.
func (a ActivitySettings) Window() time.Duration {
	return secsOr(a.WindowSecs, 90*time.Second)
}

// GetMarkers returns project root markers with defaults applied.
func (a ActivitySettings) GetMarkers() []string {
	if len(a.Markers) == 0 {
		return []string{".git", "go.mod", "package.json", "Cargo.toml", "pyproject.toml"}
	}
	return a.Markers
}

// GetSkipDirs returns never-scanned directory names with defaults applied.
func (a ActivitySettings) GetSkipDirs() []string {
	if len(a.SkipDirs) == 0 {
		return []string{".git", "node_modules", "vendor", "target", "dist", "build", ".venv"}
	}
	return a.SkipDirs
}

// GetScanRate returns the rescan rate cap with the default applied.
func (a ActivitySettings) GetScanRate() float64 {
	if a.ScanRatePerSec <= 0 {
		return 4
	}
	return a.ScanRatePerSec
}

// GetMaxDepth returns the walk depth bound with the default applied.
func (a ActivitySettings) GetMaxDepth() int {
	if a.MaxDepth <= 0 {
		return 6
	}
	return a.MaxDepth
}

// GetWatch returns whether fsnotify watching is enabled, defaulting to true.
func (a ActivitySettings) GetWatch() bool {
	if a.Watch == nil {
		return true
	}
	return *a.Watch
}

// GetEnabled returns whether the journal is enabled, defaulting to true.
func (j JournalSettings) GetEnabled() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// Retention returns the journal retention period with the default applied.
func (j JournalSettings) Retention() time.Duration {
	if j.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(j.RetentionDays) * 24 * time.Hour
}

// GetCompress returns whether rotated logs are compressed, defaulting to true.
func (l LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// GetListenAddr returns the bind address with the default applied.
func (w WebSettings) GetListenAddr() string {
	if w.ListenAddr == "" {
		return "127.0.0.1:8430"
	}
	return w.ListenAddr
}

// PushInterval returns the websocket snapshot cadence with the default applied.
func (w WebSettings) PushInterval() time.Duration {
	return secsOr(w.PushIntervalSecs, 2*time.Second)
}

func secsOr(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// --- load/save ---

var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Load reads config.toml from the given paths, returning defaults when
// the file does not exist. The result is cached per process.
func Load(paths Paths) (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	configPath := paths.ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cache = &Config{}
		return cache, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		// Cache defaults to prevent repeated parse attempts, but surface
		// the error so callers can show it to the user.
		cache = &Config{}
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	cache = &cfg
	return cache, nil
}

// ClearCache resets the cached config so the next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes the config atomically (temp file + fsync + rename) and
// clears the cache.
func Save(paths Paths, cfg *Config) error {
	configPath := paths.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# agent-radar configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize config save: %w", err)
	}

	ClearCache()
	return nil
}
