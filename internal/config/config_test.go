package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPathsRespectsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AGENTRADAR_DIR", dir)

	p, err := DefaultPaths()
	require.NoError(t, err)
	assert.Equal(t, dir, p.BaseDir)
	assert.Equal(t, filepath.Join(dir, "locks"), p.LocksDir())
	assert.Equal(t, filepath.Join(dir, "sessions.json"), p.StorePath())
	assert.Equal(t, filepath.Join(dir, "journal.db"), p.JournalPath())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	ClearCache()
	t.Cleanup(ClearCache)

	cfg, err := Load(Paths{BaseDir: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Resolver.ActiveStaleness())
	assert.Equal(t, 120*time.Second, cfg.Resolver.RecencyWindow())
	assert.Equal(t, 10*time.Minute, cfg.Resolver.QuietWindow())
	assert.Equal(t, 60*time.Second, cfg.Resolver.TombstoneGrace())
	assert.Equal(t, 24*time.Hour, cfg.Locks.LegacyExpiry())
	assert.Equal(t, []string{"claude"}, cfg.Locks.GetProcessNames())
	assert.Equal(t, 90*time.Second, cfg.Activity.Window())
	assert.True(t, cfg.Activity.GetWatch())
	assert.True(t, cfg.Journal.GetEnabled())
	assert.Equal(t, "127.0.0.1:8430", cfg.Web.GetListenAddr())
}

func TestLoadParsesOverrides(t *testing.T) {
	ClearCache()
	t.Cleanup(ClearCache)

	paths := Paths{BaseDir: t.TempDir()}
	content := `
[resolver]
active_staleness_secs = 45
quiet_window_secs = 300

[locks]
legacy_expiry_hours = 12
process_names = ["claude", "codex"]

[activity]
watch = false

[journal]
enabled = false
`
	require.NoError(t, os.WriteFile(paths.ConfigPath(), []byte(content), 0o600))

	cfg, err := Load(paths)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Resolver.ActiveStaleness())
	assert.Equal(t, 5*time.Minute, cfg.Resolver.QuietWindow())
	assert.Equal(t, 12*time.Hour, cfg.Locks.LegacyExpiry())
	assert.Equal(t, []string{"claude", "codex"}, cfg.Locks.GetProcessNames())
	assert.False(t, cfg.Activity.GetWatch())
	assert.False(t, cfg.Journal.GetEnabled())
}

func TestLoadMalformedFileReturnsErrorAndDefaults(t *testing.T) {
	ClearCache()
	t.Cleanup(ClearCache)

	paths := Paths{BaseDir: t.TempDir()}
	require.NoError(t, os.WriteFile(paths.ConfigPath(), []byte("not toml {{{"), 0o600))

	cfg, err := Load(paths)
	assert.Error(t, err)
	require.NotNil(t, cfg)
	// Defaults still usable so the caller can keep running.
	assert.Equal(t, 30*time.Second, cfg.Resolver.ActiveStaleness())
}

func TestSaveRoundTrip(t *testing.T) {
	ClearCache()
	t.Cleanup(ClearCache)

	paths := Paths{BaseDir: t.TempDir()}
	cfg := &Config{}
	cfg.Resolver.ActiveStalenessSecs = 15
	cfg.Web.Token = "secret"

	require.NoError(t, Save(paths, cfg))

	loaded, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, loaded.Resolver.ActiveStaleness())
	assert.Equal(t, "secret", loaded.Web.Token)

	// Atomic write leaves no temp file behind.
	_, err = os.Stat(paths.ConfigPath() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
