package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreMissingFileIsUnset(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "imsg-state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, ok, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("expected no persisted cursor")
	}
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "imsg-state.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	before := time.Now().Add(-time.Second)
	if err := store.Save(context.Background(), 121); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, _ := NewFileStore(path)
	st, ok, err := reopened.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	if st.ID != 121 {
		t.Fatalf("id = %d, want 121", st.ID)
	}
	if st.UpdatedAt.Before(before) {
		t.Fatalf("updated_at %v not refreshed", st.UpdatedAt)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %v, want 0600", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestFileStoreReadsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imsg-state.json")
	legacy := `{"lastMessageId": 4512, "timestamp": 1700000000000, "lastUpdate": "2023-11-14T22:13:20.000Z"}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, _ := NewFileStore(path)
	st, ok, err := store.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	if st.ID != 4512 {
		t.Fatalf("id = %d, want 4512", st.ID)
	}
	if !st.UpdatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("updated_at = %v", st.UpdatedAt)
	}
}

func TestFileStoreWritesLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imsg-state.json")
	store, _ := NewFileStore(path)
	if err := store.Save(context.Background(), 7); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"lastMessageId", "timestamp", "lastUpdate"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
}

func TestFileStoreCorruptFileIsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imsg-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, _ := NewFileStore(path)
	_, _, err := store.Load(context.Background())
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.Op != "load" {
		t.Fatalf("op = %q", perr.Op)
	}
}

func TestFileStoreSaveFailureIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Parent "directory" is a regular file, so the write cannot succeed.
	store, _ := NewFileStore(filepath.Join(blocker, "imsg-state.json"))
	err := store.Save(context.Background(), 1)
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "save" {
		t.Fatalf("expected save PersistenceError, got %v", err)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestInMemoryStoreHistory(t *testing.T) {
	store := NewInMemoryStore()
	if _, ok, _ := store.Load(context.Background()); ok {
		t.Fatalf("fresh store should be unset")
	}
	for _, id := range []int64{0, 5, 9} {
		if err := store.Save(context.Background(), id); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	st, ok, _ := store.Load(context.Background())
	if !ok || st.ID != 9 {
		t.Fatalf("Load = %+v ok=%v", st, ok)
	}
	got := store.History()
	if len(got) != 3 || got[0] != 0 || got[2] != 9 {
		t.Fatalf("history = %v", got)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	store, err := NewStore(context.Background(), Config{Ephemeral: true, Path: "ignored"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}

	store, err = NewStore(context.Background(), Config{Path: filepath.Join(t.TempDir(), "c.json")})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}
}
