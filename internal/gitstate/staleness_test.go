package gitstate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/codeatlas-ai/memcore/internal/gitstate"
	"github.com/codeatlas-ai/memcore/internal/store"
)

// scriptHeads makes rev-parse walk a fixed HEAD sequence, sticking on the
// last entry. Log commands reply with canned output.
func scriptHeads(heads []string, log string) (fn func(dir string, args ...string) (string, error)) {
	i := 0
	return func(dir string, args ...string) (string, error) {
		switch args[0] {
		case "rev-parse":
			h := heads[i]
			if i < len(heads)-1 {
				i++
			}
			return h, nil
		case "log":
			return log, nil
		}
		return "", errors.New("unexpected git command")
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── HasNewCommits ──────────────────────────────────────────────────────────

func TestHasNewCommits_FiresOncePerEdge(t *testing.T) {
	restore := gitstate.SwapRunGit(scriptHeads([]string{"A", "A", "B", "B", "B", "C"}, ""))
	defer restore()

	c := gitstate.NewChecker(t.TempDir(), nil, gitstate.DefaultConfig(), nil)
	want := []bool{false, false, true, false, false, true}
	for i, w := range want {
		if got := c.HasNewCommits(); got != w {
			t.Errorf("call %d = %v, want %v", i, got, w)
		}
	}
}

func TestHasNewCommits_UnprimedReportsFirstHead(t *testing.T) {
	restore := gitstate.SwapRunGit(scriptHeads([]string{"A", "A"}, ""))
	defer restore()

	c := gitstate.NewChecker(t.TempDir(), nil, gitstate.Config{PrimedAtStartup: false}, nil)
	if !c.HasNewCommits() {
		t.Error("first observation should count as new when unprimed")
	}
	if c.HasNewCommits() {
		t.Error("second call on the same head should be false")
	}
}

func TestHasNewCommits_OutsideRepository(t *testing.T) {
	restore := gitstate.SwapRunGit(func(dir string, args ...string) (string, error) {
		return "", errors.New("not a git repository")
	})
	defer restore()

	c := gitstate.NewChecker(t.TempDir(), nil, gitstate.DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		if c.HasNewCommits() {
			t.Fatal("non-repo must never report new commits")
		}
	}
}

// ─── Persistence ────────────────────────────────────────────────────────────

func TestUpdateCachedHead_SurvivesRestart(t *testing.T) {
	restore := gitstate.SwapRunGit(scriptHeads([]string{"A"}, ""))
	defer restore()

	s := newTestStore(t)

	c1 := gitstate.NewChecker(t.TempDir(), s, gitstate.DefaultConfig(), nil)
	if err := c1.UpdateCachedHead(); err != nil {
		t.Fatalf("UpdateCachedHead() error: %v", err)
	}

	// A fresh checker over the same store is already primed on A.
	c2 := gitstate.NewChecker(t.TempDir(), s, gitstate.Config{PrimedAtStartup: false}, nil)
	if c2.HasNewCommits() {
		t.Error("persisted head should pre-prime a restarted checker")
	}
}

// ─── Rate limiting ──────────────────────────────────────────────────────────

func TestShouldCheck_GatesByElapsedTime(t *testing.T) {
	restore := gitstate.SwapRunGit(scriptHeads([]string{"A"}, ""))
	defer restore()

	c := gitstate.NewChecker(t.TempDir(), nil, gitstate.DefaultConfig(), nil)
	if !c.ShouldCheck(time.Hour) {
		t.Fatal("a checker that never checked should fire")
	}
	c.HasNewCommits()
	if c.ShouldCheck(time.Hour) {
		t.Error("immediately after a check the gate should hold")
	}
	if !c.ShouldCheck(0) {
		t.Error("a zero threshold always fires")
	}
}

// ─── Log parsing ────────────────────────────────────────────────────────────

func TestLogRange_ParsesTabSeparatedEntries(t *testing.T) {
	log := "abc123\tAda\t2026-08-01T10:00:00Z\tfix flaky retry\n" +
		"def456\tGrace\t2026-07-31T09:00:00Z\tadd connection pool"
	restore := gitstate.SwapRunGit(scriptHeads([]string{"A"}, log))
	defer restore()

	c := gitstate.NewChecker(t.TempDir(), nil, gitstate.DefaultConfig(), nil)
	commits := c.LogRange("def456", "abc123")
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].Hash != "abc123" || commits[0].Author != "Ada" {
		t.Errorf("first commit = %+v", commits[0])
	}
	if commits[0].Subject != "fix flaky retry" {
		t.Errorf("subject = %q", commits[0].Subject)
	}
	if commits[0].Date.IsZero() {
		t.Error("date not parsed")
	}
}

func TestFileHistory_EmptyOutsideRepository(t *testing.T) {
	restore := gitstate.SwapRunGit(func(dir string, args ...string) (string, error) {
		return "", errors.New("not a git repository")
	})
	defer restore()

	c := gitstate.NewChecker(t.TempDir(), nil, gitstate.DefaultConfig(), nil)
	if got := c.FileHistory("a.go"); got != nil {
		t.Errorf("expected nil history, got %v", got)
	}
}
