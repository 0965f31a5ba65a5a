package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, KeyUpdates); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, KeyUpdates, []byte(`[{"id":"x"}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := store.Get(ctx, KeyUpdates)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(raw) != `[{"id":"x"}]` {
		t.Fatalf("unexpected value %s", raw)
	}
	if err := store.Remove(ctx, KeyUpdates); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(ctx, KeyUpdates); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "../escape", []byte("x")); err == nil {
		t.Fatal("expected path-like key to be rejected")
	}
	if err := store.Set(ctx, "", []byte("x")); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Set(context.Background(), KeyUpdates, []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Fatalf("temp file %s left behind", entry.Name())
		}
	}
}

func TestFileStoreWatchSeesOtherWriters(t *testing.T) {
	dir := t.TempDir()
	reader, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	writer, err := NewFileStore(dir, testLogger())
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := reader.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := writer.Set(ctx, KeyUpdates, []byte(`[{"id":"other"}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case change := <-changes:
			if change.Key == KeyUpdates && !change.Removed {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for cross-writer notification")
		}
	}
}
