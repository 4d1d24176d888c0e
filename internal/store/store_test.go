package store_test

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeatlas-ai/memcore/internal/store"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := store.Config{
		DataDir:          t.TempDir(),
		MaxPreviewLength: 2000,
	}
	s, err := store.New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_CreatesDBFile(t *testing.T) {
	dir := t.TempDir()
	s, err := store.New(store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, "memory.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestNew_OpenErrorPropagates(t *testing.T) {
	restore := store.SwapOpenDB(func(driver, dsn string) (*sql.DB, error) {
		return nil, errors.New("driver exploded")
	})
	defer restore()

	if _, err := store.New(store.Config{DataDir: t.TempDir()}); err == nil {
		t.Fatal("expected an error from a failing driver")
	}
}

func TestNew_MigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		s, err := store.New(store.Config{DataDir: dir})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

// ─── Files ──────────────────────────────────────────────────────────────────

func testFile(path string) store.FileRecord {
	now := time.Now()
	return store.FileRecord{
		Path:        path,
		ContentHash: store.HashContent("content of " + path),
		Language:    "go",
		SizeBytes:   42,
		LineCount:   3,
		Preview:     "package main",
		ModifiedAt:  now,
		IndexedAt:   now,
	}
}

func TestUpsertFile_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	f := testFile("a/b.go")
	if err := s.UpsertFile(f); err != nil {
		t.Fatalf("UpsertFile() error: %v", err)
	}

	got, err := s.GetFile("a/b.go")
	if err != nil {
		t.Fatalf("GetFile() error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.ContentHash != f.ContentHash || got.Language != "go" || got.LineCount != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestUpsertFile_SamePathReplaces(t *testing.T) {
	s := newTestStore(t)
	f := testFile("x.go")
	if err := s.UpsertFile(f); err != nil {
		t.Fatal(err)
	}
	f.Language = "typescript"
	if err := s.UpsertFile(f); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if all[0].Language != "typescript" {
		t.Errorf("language = %q, want typescript", all[0].Language)
	}
}

func TestGetFile_UnknownPathReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetFile("nope.go")
	if err != nil {
		t.Fatalf("GetFile() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestDeleteFile_CascadesEmbedding(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertFile(testFile("gone.go")); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEmbedding(store.OwnerFile, "gone.go", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteFile("gone.go"); err != nil {
		t.Fatalf("DeleteFile() error: %v", err)
	}

	if f, _ := s.GetFile("gone.go"); f != nil {
		t.Error("file record survived delete")
	}
	if e, _ := s.GetEmbedding(store.OwnerFile, "gone.go"); e != nil {
		t.Error("embedding survived delete")
	}
}

// ─── Embeddings ─────────────────────────────────────────────────────────────

func TestUpsertEmbedding_OneRowPerOwner(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertEmbedding(store.OwnerFile, "a.go", []float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEmbedding(store.OwnerFile, "a.go", []float32{4, 5, 6}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListEmbeddings(store.OwnerFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(all))
	}
	want := []float32{4, 5, 6}
	for i, v := range all[0].Vector {
		if v != want[i] {
			t.Fatalf("vector[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestEmbedding_KindsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertEmbedding(store.OwnerFile, "id", []float32{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEmbedding(store.OwnerDecision, "id", []float32{2}); err != nil {
		t.Fatal(err)
	}

	files, _ := s.ListEmbeddings(store.OwnerFile)
	decs, _ := s.ListEmbeddings(store.OwnerDecision)
	if len(files) != 1 || len(decs) != 1 {
		t.Fatalf("kind isolation broken: %d files, %d decisions", len(files), len(decs))
	}
	if files[0].Vector[0] != 1 || decs[0].Vector[0] != 2 {
		t.Error("vectors crossed kinds")
	}
}

func TestDeleteEmbedding(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertEmbedding(store.OwnerQuery, "q1", []float32{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteEmbedding(store.OwnerQuery, "q1"); err != nil {
		t.Fatalf("DeleteEmbedding() error: %v", err)
	}
	if e, _ := s.GetEmbedding(store.OwnerQuery, "q1"); e != nil {
		t.Error("embedding survived delete")
	}
}

// ─── Repo state ─────────────────────────────────────────────────────────────

func TestRepoState_SingleRow(t *testing.T) {
	s := newTestStore(t)

	rs, err := s.GetRepoState()
	if err != nil {
		t.Fatalf("GetRepoState() error: %v", err)
	}
	if rs != nil {
		t.Fatalf("expected no state yet, got %+v", rs)
	}

	if err := s.SetRepoState("aaa111"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRepoState("bbb222"); err != nil {
		t.Fatal(err)
	}

	rs, err = s.GetRepoState()
	if err != nil {
		t.Fatal(err)
	}
	if rs == nil || rs.HeadCommit != "bbb222" {
		t.Fatalf("head = %+v, want bbb222", rs)
	}
}

// ─── Critical context ───────────────────────────────────────────────────────

func TestCritical_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i, id := range []string{"c1", "c2"} {
		err := s.InsertCritical(store.CriticalEntry{
			ID:            id,
			Kind:          "constraint",
			Content:       "entry " + id,
			Reason:        "load bearing",
			NeverCompress: true,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertCritical(%s) error: %v", id, err)
		}
	}

	all, err := s.ListCritical()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].ID != "c2" {
		t.Errorf("order: got %s first, want c2", all[0].ID)
	}
	if !all[0].NeverCompress {
		t.Error("never_compress lost in round trip")
	}
}

// ─── Normalization / hashing ────────────────────────────────────────────────

func TestNormalizeCode_FormattingOnly(t *testing.T) {
	a := "const x = 'hello';\n  doThing( x );"
	b := "const   x = \"hello\";  doThing( x );"
	if store.NormalizeCode(a) != store.NormalizeCode(b) {
		t.Errorf("whitespace and quote style should normalize away:\n%q\n%q",
			store.NormalizeCode(a), store.NormalizeCode(b))
	}
	if store.HashNormalizedCode(a) != store.HashNormalizedCode(b) {
		t.Error("normalized hashes differ")
	}
}

func TestNormalizeCode_IdentifiersSurvive(t *testing.T) {
	a := "doThing(x)"
	b := "doOther(x)"
	if store.HashNormalizedCode(a) == store.HashNormalizedCode(b) {
		t.Error("different identifiers must not collide")
	}
}
