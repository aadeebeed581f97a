package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestStorageCreateMoveOpen(t *testing.T) {
	store := newDiskTestStorage(t)
	dir := filepath.Join(t.TempDir(), "cache")
	if err := store.MkdirAll(dir); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	staging := filepath.Join(dir, "abc-1.png")
	canonical := filepath.Join(dir, "abc.png")
	writeStorageFile(t, store, staging, "payload")

	if exists, _ := store.Exists(canonical); exists {
		t.Fatalf("canonical path should not exist before publish")
	}
	if err := store.Move(staging, canonical); err != nil {
		t.Fatalf("move error: %v", err)
	}
	if exists, _ := store.Exists(staging); exists {
		t.Fatalf("staging file should be gone after move")
	}

	f, err := store.Open(canonical)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("payload mismatch: %s", string(body))
	}
}

func TestStorageRemoveIsIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	if err := store.Remove("/cache/missing.jpg"); err != nil {
		t.Fatalf("removing a missing file should succeed, got %v", err)
	}
	if err := store.RemoveAll("/cache/missing"); err != nil {
		t.Fatalf("removing a missing dir should succeed, got %v", err)
	}
}

func TestStorageMkdirAllIsIdempotent(t *testing.T) {
	store := newDiskTestStorage(t)
	dir := filepath.Join(t.TempDir(), "cache")
	for i := 0; i < 2; i++ {
		if err := store.MkdirAll(dir); err != nil {
			t.Fatalf("mkdir #%d error: %v", i, err)
		}
	}
}

func TestStorageListAndStat(t *testing.T) {
	store := newDiskTestStorage(t)
	dir := t.TempDir()
	writeStorageFile(t, store, filepath.Join(dir, "a.jpg"), "aa")
	writeStorageFile(t, store, filepath.Join(dir, "b.png"), "bbb")

	names, err := store.List(dir)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.jpg" || names[1] != "b.png" {
		t.Fatalf("unexpected listing: %v", names)
	}

	info, err := store.Stat(filepath.Join(dir, "b.png"))
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if info.SizeBytes != 3 || info.IsDir {
		t.Fatalf("unexpected file info: %+v", info)
	}
}

func TestStorageMissingPathsReportNotFound(t *testing.T) {
	store := newDiskTestStorage(t)
	missing := filepath.Join(t.TempDir(), "missing")

	if _, err := store.List(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from List, got %v", err)
	}
	if _, err := store.Stat(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Stat, got %v", err)
	}
	if _, err := store.Open(missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Open, got %v", err)
	}
	if exists, err := store.Exists(missing); err != nil || exists {
		t.Fatalf("expected missing path to not exist, got %v %v", exists, err)
	}
}

func TestStorageRemoveAllDeletesTree(t *testing.T) {
	store := newDiskTestStorage(t)
	dir := filepath.Join(t.TempDir(), "cache")
	writeStorageFile(t, store, filepath.Join(dir, "nested", "a.jpg"), "a")

	if err := store.RemoveAll(dir); err != nil {
		t.Fatalf("remove all error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed, got %v", err)
	}
}

// newDiskTestStorage returns the OS-backed Storage used in production.
func newDiskTestStorage(t *testing.T) Storage {
	t.Helper()
	return NewDiskStorage()
}

func writeStorageFile(t *testing.T, store Storage, path, content string) {
	t.Helper()
	w, err := store.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}
