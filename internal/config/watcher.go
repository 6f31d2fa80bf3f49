package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/parley-ai/parley/internal/logging"
)

// Watcher watches config files and reloads on change.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onReload  func(*Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

// NewWatcher creates a watcher over the global and project config
// directories. onReload receives every successfully reloaded config.
func NewWatcher(directory string, onReload func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch directories, not files: editors replace files on save and the
	// inode watch would be lost.
	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, filepath.Join(directory, ".parley"))
	}
	watching := 0
	for _, dir := range dirs {
		if err := w.Add(dir); err == nil {
			watching++
		}
	}
	if watching == 0 {
		w.Close()
		return nil, nil
	}

	return &Watcher{
		watcher:   w,
		directory: directory,
		onReload:  onReload,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.directory)
			if err != nil {
				logging.Warn().Err(err).Str("file", ev.Name).Msg("config reload failed")
				continue
			}
			logging.Info().Str("file", ev.Name).Msg("config reloaded")
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Stop stops watching and waits for the run loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}

func isConfigFile(path string) bool {
	switch filepath.Base(path) {
	case "parley.json", "parley.jsonc", "parley.yaml", "parley.yml":
		return true
	}
	return false
}
