package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard directories for parley data.
type Paths struct {
	Data   string // ~/.local/share/parley
	Config string // ~/.config/parley
	State  string // ~/.local/state/parley
}

// GetPaths returns the XDG-style paths for parley data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(envOr("XDG_DATA_HOME", defaultDataHome()), "parley"),
		Config: filepath.Join(envOr("XDG_CONFIG_HOME", defaultConfigHome()), "parley"),
		State:  filepath.Join(envOr("XDG_STATE_HOME", defaultStateHome()), "parley"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// TranscriptPath returns the default transcript archive directory.
func (p *Paths) TranscriptPath() string {
	return filepath.Join(p.Data, "transcripts")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
