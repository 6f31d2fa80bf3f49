// Package transcript persists committed conversation history as JSON files,
// one per session. Writes are atomic (temp file plus rename) and guarded by
// a per-file flock so two processes sharing a transcript directory do not
// interleave.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

var ErrNotFound = errors.New("transcript not found")

// Transcript is the on-disk record for one session.
type Transcript struct {
	SessionID string          `json:"sessionID"`
	Title     string          `json:"title,omitempty"`
	Messages  []types.Message `json:"messages"`
	Updated   time.Time       `json:"updated"`
}

// Restorer seeds committed history back into a live store.
type Restorer interface {
	Restore(sessionID string, title string, messages []types.Message)
}

// Archive stores transcripts under a single directory.
type Archive struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*fileLock
}

// NewArchive creates the transcript directory if needed.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Archive{
		dir:   dir,
		locks: make(map[string]*fileLock),
	}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) path(sessionID string) string {
	return filepath.Join(a.dir, sessionID+".json")
}

// AppendMessage appends a committed message to the session's transcript,
// creating the transcript on first write.
func (a *Archive) AppendMessage(sessionID string, msg types.Message) error {
	return a.update(sessionID, func(t *Transcript) {
		t.Messages = append(t.Messages, msg)
	})
}

// SetTitle records the session title alongside its messages.
func (a *Archive) SetTitle(sessionID, title string) error {
	return a.update(sessionID, func(t *Transcript) {
		t.Title = title
	})
}

func (a *Archive) update(sessionID string, mutate func(*Transcript)) error {
	filePath := a.path(sessionID)

	lock := a.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	t, err := a.read(filePath)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		t = &Transcript{SessionID: sessionID}
	}

	mutate(t)
	t.Updated = time.Now().UTC()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Load reads one session's transcript.
func (a *Archive) Load(sessionID string) (*Transcript, error) {
	return a.read(a.path(sessionID))
}

func (a *Archive) read(filePath string) (*Transcript, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return &t, nil
}

// Sessions lists the session IDs with a stored transcript, sorted.
func (a *Archive) Sessions() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a session's transcript. Deleting a missing transcript
// is not an error.
func (a *Archive) Delete(sessionID string) error {
	filePath := a.path(sessionID)

	lock := a.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// RestoreAll seeds every stored transcript into the given store.
// Unreadable files are skipped.
func (a *Archive) RestoreAll(r Restorer) error {
	ids, err := a.Sessions()
	if err != nil {
		return err
	}
	for _, id := range ids {
		t, err := a.Load(id)
		if err != nil {
			continue
		}
		r.Restore(t.SessionID, t.Title, t.Messages)
	}
	return nil
}

func (a *Archive) getLock(filePath string) *fileLock {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[filePath]
	if !ok {
		lock = newFileLock(filePath)
		a.locks[filePath] = lock
	}
	return lock
}
