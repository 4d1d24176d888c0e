package indexer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/indexer"
	"github.com/codeatlas-ai/memcore/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestIndexer(t *testing.T, s *store.Store) (*indexer.Indexer, *embed.Mock) {
	t.Helper()
	m := embed.NewMock(64)
	return indexer.New(s, m, indexer.DefaultConfig(), nil), m
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ─── IndexFile ──────────────────────────────────────────────────────────────

func TestIndexFile_RecordsMetadataAndEmbedding(t *testing.T) {
	s := newTestStore(t)
	ix, _ := newTestIndexer(t, s)
	path := writeTemp(t, t.TempDir(), "handler.go", "package web\n\nfunc Handle() {}\n")

	rec, err := ix.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IndexFile() error: %v", err)
	}
	if rec.Language != "go" {
		t.Errorf("language = %q, want go", rec.Language)
	}
	if rec.LineCount != 4 {
		t.Errorf("lines = %d, want 4", rec.LineCount)
	}
	if rec.ContentHash == "" || rec.Preview == "" {
		t.Errorf("incomplete record: %+v", rec)
	}

	if e, _ := s.GetEmbedding(store.OwnerFile, path); e == nil {
		t.Error("expected a file embedding")
	}
}

func TestIndexFile_UnchangedContentIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ix, _ := newTestIndexer(t, s)
	path := writeTemp(t, t.TempDir(), "a.ts", "const x = 1\n")

	first, err := ix.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ix.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !second.IndexedAt.Equal(first.IndexedAt) {
		t.Error("unchanged content must not reindex")
	}
}

func TestIndexFile_ChangedContentReindexes(t *testing.T) {
	s := newTestStore(t)
	ix, _ := newTestIndexer(t, s)
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.ts", "const x = 1\n")

	first, err := ix.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	writeTemp(t, dir, "a.ts", "const x = 2\nconst y = 3\n")

	second, err := ix.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if second.ContentHash == first.ContentHash {
		t.Error("hash should change with content")
	}
	if second.LineCount != 3 {
		t.Errorf("lines = %d, want 3", second.LineCount)
	}
}

func TestIndexFile_MissingFile(t *testing.T) {
	ix, _ := newTestIndexer(t, newTestStore(t))
	if _, err := ix.IndexFile(context.Background(), filepath.Join(t.TempDir(), "ghost.go")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestIndexFile_EmbedderOutageStillIndexes(t *testing.T) {
	s := newTestStore(t)
	ix, m := newTestIndexer(t, s)
	m.Fail = errors.New("provider down")
	path := writeTemp(t, t.TempDir(), "a.py", "print('hi')\n")

	rec, err := ix.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatalf("outage must not fail indexing: %v", err)
	}
	if rec.Language != "python" {
		t.Errorf("language = %q", rec.Language)
	}
	if e, _ := s.GetEmbedding(store.OwnerFile, path); e != nil {
		t.Error("no embedding should exist after failure")
	}
}

// ─── IndexContent ───────────────────────────────────────────────────────────

func TestIndexContent_NoDiskNeeded(t *testing.T) {
	s := newTestStore(t)
	ix, _ := newTestIndexer(t, s)

	rec, err := ix.IndexContent(context.Background(), "virtual/query.sql", []byte("SELECT id FROM users"))
	if err != nil {
		t.Fatalf("IndexContent() error: %v", err)
	}
	if rec.Language != "sql" || rec.SizeBytes != 20 {
		t.Errorf("record = %+v", rec)
	}
	if f, _ := s.GetFile("virtual/query.sql"); f == nil {
		t.Error("record not persisted")
	}
}

func TestIndexContent_PreviewIsBounded(t *testing.T) {
	s := newTestStore(t)
	m := embed.NewMock(64)
	ix := indexer.New(s, m, indexer.Config{PreviewLength: 10}, nil)

	rec, err := ix.IndexContent(context.Background(), "big.md", []byte(strings.Repeat("x", 100)))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Preview) != 10 {
		t.Errorf("preview length = %d, want 10", len(rec.Preview))
	}
	if rec.SizeBytes != 100 {
		t.Errorf("size = %d, want the full 100", rec.SizeBytes)
	}
}

// ─── RemoveFile ─────────────────────────────────────────────────────────────

func TestRemoveFile_CascadesEmbedding(t *testing.T) {
	s := newTestStore(t)
	ix, _ := newTestIndexer(t, s)
	if _, err := ix.IndexContent(context.Background(), "gone.go", []byte("package gone")); err != nil {
		t.Fatal(err)
	}

	if err := ix.RemoveFile("gone.go"); err != nil {
		t.Fatalf("RemoveFile() error: %v", err)
	}
	if f, _ := s.GetFile("gone.go"); f != nil {
		t.Error("record survived removal")
	}
	if e, _ := s.GetEmbedding(store.OwnerFile, "gone.go"); e != nil {
		t.Error("embedding survived removal")
	}
}

// ─── Watcher ────────────────────────────────────────────────────────────────

func TestWatcher_IndexesOnWrite(t *testing.T) {
	s := newTestStore(t)
	ix, _ := newTestIndexer(t, s)
	w, err := indexer.NewWatcher(ix, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	dir := t.TempDir()
	if err := w.Add(dir); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	path := writeTemp(t, dir, "new.go", "package new\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f, _ := s.GetFile(path); f != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watched file was never indexed")
}
