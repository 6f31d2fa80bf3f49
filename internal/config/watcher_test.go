package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConfigFile(t *testing.T) {
	assert.True(t, isConfigFile("/some/dir/parley.json"))
	assert.True(t, isConfigFile("/some/dir/parley.jsonc"))
	assert.True(t, isConfigFile("parley.yaml"))
	assert.True(t, isConfigFile("parley.yml"))
	assert.False(t, isConfigFile("/some/dir/parley.json.swp"))
	assert.False(t, isConfigFile("/some/dir/other.json"))
	assert.False(t, isConfigFile(".env"))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	_, projectDir := isolate(t)

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(projectDir, func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NotNil(t, w)
	t.Cleanup(w.Stop)
	w.Start()

	writeConfig(t, filepath.Join(projectDir, ".parley"), "parley.json",
		`{"logLevel": "DEBUG"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "DEBUG", got[len(got)-1].LogLevel)
	mu.Unlock()
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	_, projectDir := isolate(t)

	var mu sync.Mutex
	reloads := 0
	w, err := NewWatcher(projectDir, func(cfg *Config) {
		mu.Lock()
		reloads++
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NotNil(t, w)
	t.Cleanup(w.Stop)
	w.Start()

	writeConfig(t, filepath.Join(projectDir, ".parley"), "notes.txt", "scratch")

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, reloads)
	mu.Unlock()
}

func TestWatcherNilWhenNothingWatchable(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "nonexistent"))

	w, err := NewWatcher("", nil)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestWatcherStopIdempotentBeforeStart(t *testing.T) {
	_, projectDir := isolate(t)

	w, err := NewWatcher(projectDir, func(*Config) {})
	require.NoError(t, err)
	require.NotNil(t, w)

	// Stop without Start must not hang or panic.
	w.Stop()
}

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, "state"))

	p := GetPaths()
	assert.Equal(t, filepath.Join(home, "config", "parley"), p.Config)
	assert.Equal(t, filepath.Join(home, "data", "parley"), p.Data)
	assert.Equal(t, filepath.Join(home, "state", "parley"), p.State)
	assert.Equal(t, filepath.Join(p.Data, "transcripts"), p.TranscriptPath())

	require.NoError(t, p.EnsurePaths())
	for _, dir := range []string{p.Config, p.Data, p.State} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
