package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileState keeps the layout of the imsg-state.json files written by earlier
// relay scripts so an existing watermark is picked up as-is.
type fileState struct {
	LastMessageID int64  `json:"lastMessageId"`
	Timestamp     int64  `json:"timestamp"`
	LastUpdate    string `json:"lastUpdate"`
}

// FileStore keeps the cursor in a small JSON file, replaced atomically on save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("cursor file path is required")
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, &PersistenceError{Backend: "file", Op: "load", Err: err}
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, &PersistenceError{Backend: "file", Op: "load", Err: fmt.Errorf("parse %s: %w", s.path, err)}
	}
	if st.LastMessageID < 0 {
		return State{}, false, &PersistenceError{Backend: "file", Op: "load", Err: fmt.Errorf("negative cursor %d in %s", st.LastMessageID, s.path)}
	}

	out := State{ID: st.LastMessageID}
	if st.Timestamp > 0 {
		out.UpdatedAt = time.UnixMilli(st.Timestamp).UTC()
	}
	return out, true, nil
}

func (s *FileStore) Save(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Backend: "file", Op: "save", Err: err}
	}
	now := time.Now().UTC()
	data, err := json.MarshalIndent(fileState{
		LastMessageID: id,
		Timestamp:     now.UnixMilli(),
		LastUpdate:    now.Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return &PersistenceError{Backend: "file", Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, append(data, '\n'), 0o600); err != nil {
		return &PersistenceError{Backend: "file", Op: "save", Err: err}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}
