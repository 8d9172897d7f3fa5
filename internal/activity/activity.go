// Package activity answers "has anything in this project changed
// recently" from file mtimes. It is the resolver's last-resort signal
// when no lock and no session record claims a path: a hook delivery
// can be lost, but files an agent touched still carry timestamps.
package activity

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-radar/internal/config"
	"github.com/asheshgoplani/agent-radar/internal/logging"
	"github.com/asheshgoplani/agent-radar/internal/pathutil"
	"github.com/asheshgoplani/agent-radar/internal/platform"
)

var actLog = logging.ForComponent(logging.CompActivity)

// Tracker observes project directories. Directories under watch get
// live updates from fsnotify; everything else falls back to rate
// limited mtime scans with a cache in between.
type Tracker struct {
	cfg     config.ActivitySettings
	limiter *rate.Limiter
	watcher *fsnotify.Watcher

	mu sync.Mutex
	// lastSeen maps a normalized project dir to the newest activity
	// instant we know about, from either a scan or a watch event.
	lastSeen map[string]time.Time
	// scannedAt maps a normalized project dir to when it was last
	// fully scanned.
	scannedAt map[string]time.Time
}

// New creates a tracker. The fsnotify watcher is optional; when the
// filesystem cannot deliver change events the tracker degrades to
// scans only.
func New(cfg config.ActivitySettings) *Tracker {
	t := &Tracker{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.GetScanRate()), 1),
		lastSeen:  make(map[string]time.Time),
		scannedAt: make(map[string]time.Time),
	}
	if cfg.GetWatch() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			actLog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			t.watcher = w
		}
	}
	return t
}

// Close releases the watcher.
func (t *Tracker) Close() error {
	if t.watcher != nil {
		return t.watcher.Close()
	}
	return nil
}

// IsProjectRoot reports whether dir carries one of the configured
// project markers (.git, go.mod, ...).
func (t *Tracker) IsProjectRoot(dir string) bool {
	for _, marker := range t.cfg.GetMarkers() {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Observe registers dir for fsnotify watching. Only the top level is
// watched; deep trees are covered by scans. No-op when watching is
// disabled or unsupported on this filesystem.
func (t *Tracker) Observe(dir string) {
	if t.watcher == nil {
		return
	}
	if warning := platform.CheckFsnotifySupport(dir); warning != "" {
		actLog.Warn("fsnotify_degraded", slog.String("dir", dir), slog.String("reason", warning))
		return
	}
	if err := t.watcher.Add(dir); err != nil {
		actLog.Warn("watch_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}

// Run pumps watcher events until ctx is done. Rapid bursts are
// coalesced with a 100ms debounce before the cache is stamped.
func (t *Tracker) Run(ctx context.Context) {
	if t.watcher == nil {
		<-ctx.Done()
		return
	}

	var debounceTimer *time.Timer
	pendingDirs := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			dir := filepath.Dir(event.Name)

			pendingMu.Lock()
			pendingDirs[dir] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				pendingMu.Lock()
				dirs := make([]string, 0, len(pendingDirs))
				for d := range pendingDirs {
					dirs = append(dirs, d)
				}
				pendingDirs = make(map[string]bool)
				pendingMu.Unlock()

				now := time.Now()
				t.mu.Lock()
				for _, d := range dirs {
					t.lastSeen[pathutil.Normalize(d)] = now
				}
				t.mu.Unlock()
			})
			pendingMu.Unlock()

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			actLog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// LatestActivity returns the newest known change instant under dir.
// Scans are rate limited; when the budget is spent the cached value is
// returned instead of blocking. Zero time means nothing is known.
func (t *Tracker) LatestActivity(dir string) time.Time {
	key := pathutil.Normalize(dir)

	t.mu.Lock()
	cached := t.lastSeen[key]
	lastScan := t.scannedAt[key]
	t.mu.Unlock()

	// The limiter only throttles rescans. A path never scanned before
	// has no cache to fall back on, so it is scanned unconditionally.
	if !lastScan.IsZero() {
		interval := time.Duration(float64(time.Second) / t.cfg.GetScanRate())
		if time.Since(lastScan) < interval {
			return cached
		}
		if !t.limiter.Allow() {
			return cached
		}
	}

	latest := t.scanLatest(dir)
	now := time.Now()

	t.mu.Lock()
	t.scannedAt[key] = now
	if latest.After(t.lastSeen[key]) {
		t.lastSeen[key] = latest
	}
	latest = t.lastSeen[key]
	t.mu.Unlock()
	return latest
}

// HasRecentActivity reports whether anything under dir changed within
// the configured window.
func (t *Tracker) HasRecentActivity(dir string) bool {
	latest := t.LatestActivity(dir)
	if latest.IsZero() {
		return false
	}
	return time.Since(latest) <= t.cfg.Window()
}

// scanLatest walks dir up to the configured depth and returns the
// newest file mtime. Unreadable entries are skipped; a missing dir
// yields zero.
func (t *Tracker) scanLatest(dir string) time.Time {
	skip := make(map[string]bool, len(t.cfg.GetSkipDirs()))
	for _, d := range t.cfg.GetSkipDirs() {
		skip[d] = true
	}
	maxDepth := t.cfg.GetMaxDepth()
	base := filepath.Clean(dir)

	var latest time.Time
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != base && skip[d.Name()] {
				return filepath.SkipDir
			}
			if depthOf(base, path) > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest
}

func depthOf(base, path string) int {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
