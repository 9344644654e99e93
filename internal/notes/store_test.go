package notes

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Set("call-1", "prospect wants a Q3 rollout"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := store.Get("call-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "prospect wants a Q3 rollout" {
		t.Fatalf("unexpected notes: %q", got)
	}
}

func TestFileStoreMissingCallIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	got, err := store.Get("never-seen")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty notes, got %q", got)
	}
}

func TestFileStoreSanitizesCallIDs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Set("../evil/../../id", "contained"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one file inside the store dir, got %d", len(entries))
	}
	if filepath.Dir(filepath.Join(dir, entries[0].Name())) != dir {
		t.Fatalf("file escaped the store dir: %s", entries[0].Name())
	}

	got, err := store.Get("../evil/../../id")
	if err != nil || got != "contained" {
		t.Fatalf("expected sanitized round trip, got %q err=%v", got, err)
	}
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "notes")
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("expected nested dir creation, got %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestFileStoreRejectsEmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}

func TestFileStoreOverwrites(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Set("call-1", "first draft"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set("call-1", "final"); err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	got, _ := store.Get("call-1")
	if got != "final" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}
