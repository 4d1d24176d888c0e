package conflict_test

import (
	"context"
	"errors"
	"testing"

	"github.com/codeatlas-ai/memcore/internal/conflict"
	"github.com/codeatlas-ai/memcore/internal/decisions"
	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/store"
)

// The mock embedder scores partially overlapping texts low, so tests use
// a permissive threshold and let the textual heuristic discriminate.
const testThreshold = 0.1

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDetector(t *testing.T, s *store.Store) (*conflict.Detector, *embed.Mock) {
	t.Helper()
	m := embed.NewMock(64)
	d := conflict.NewDetector(s, m, conflict.Config{SimilarityThreshold: testThreshold}, nil)
	return d, m
}

func recordDecision(t *testing.T, s *store.Store, m *embed.Mock, title, desc string, tags ...string) *store.Decision {
	t.Helper()
	tr := decisions.NewTracker(s, m, decisions.DefaultConfig(), nil)
	d, err := tr.Record(context.Background(), decisions.RecordParams{
		Title: title, Description: desc, Tags: tags,
	})
	if err != nil {
		t.Fatalf("record %q: %v", title, err)
	}
	return d
}

// ─── Check ──────────────────────────────────────────────────────────────────

func TestCheck_FlagsRejectedTechnology(t *testing.T) {
	s := newTestStore(t)
	d, m := newTestDetector(t, s)
	dec := recordDecision(t, s, m,
		"Use REST API, not GraphQL",
		"All client data access goes through the REST api endpoints; graphql stays out",
		"api", "graphql", "rest")

	code := `// client data access layer
import { gql } from "apollo-client"
const usersQuery = gql(` + "`query { users { id } }`" + `)`
	warnings, err := d.Check(context.Background(), code)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning against GraphQL code")
	}
	w := warnings[0]
	if w.DecisionID != dec.ID || w.DecisionTitle != dec.Title {
		t.Errorf("warning references wrong decision: %+v", w)
	}
	if w.Severity != conflict.SeverityMedium && w.Severity != conflict.SeverityHigh {
		t.Errorf("severity = %q, want medium or high for an explicit rejection", w.Severity)
	}
	if w.Similarity < testThreshold {
		t.Errorf("similarity %v below threshold", w.Similarity)
	}
}

func TestCheck_FlagsOppositeChoice(t *testing.T) {
	s := newTestStore(t)
	d, m := newTestDetector(t, s)
	recordDecision(t, s, m,
		"Standardize on PostgreSQL",
		"postgres is the primary datastore for services and user data",
		"database", "postgres")

	code := `// user data model
import mongoose from "mongoose"
const User = mongoose.model("User", schema)`
	warnings, err := d.Check(context.Background(), code)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning: decision chose the opposite store")
	}
	if warnings[0].Severity != conflict.SeverityLow {
		t.Errorf("opposition without rejection = %q, want low", warnings[0].Severity)
	}
}

func TestCheck_AlignedCodeIsClean(t *testing.T) {
	s := newTestStore(t)
	d, m := newTestDetector(t, s)
	recordDecision(t, s, m,
		"Standardize on PostgreSQL",
		"postgres is the primary datastore for services and user data",
		"database", "postgres")

	code := `conn, err := pgx.Connect(ctx, dsn)`
	warnings, err := d.Check(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range warnings {
		t.Errorf("aligned code flagged: %+v", w)
	}
}

func TestCheck_IgnoresSupersededDecisions(t *testing.T) {
	s := newTestStore(t)
	d, m := newTestDetector(t, s)
	old := recordDecision(t, s, m,
		"Use REST API, not GraphQL",
		"All client data access goes through rest api endpoints; graphql stays out",
		"api", "graphql")
	repl := recordDecision(t, s, m,
		"Adopt GraphQL for the client API",
		"graphql replaces the rest api for client data access",
		"api", "graphql")
	if ok, err := s.SupersedeDecision(old.ID, repl.ID); err != nil || !ok {
		t.Fatalf("supersede: %v %v", ok, err)
	}

	code := `import { gql } from "apollo-client"`
	warnings, err := d.Check(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range warnings {
		if w.DecisionID == old.ID {
			t.Errorf("superseded decision still warning: %+v", w)
		}
	}
}

func TestCheck_EmbedderOutageDegradesEmpty(t *testing.T) {
	s := newTestStore(t)
	d, m := newTestDetector(t, s)
	recordDecision(t, s, m, "Use REST API, not GraphQL", "rest only; no graphql", "api")
	m.Fail = errors.New("provider down")

	warnings, err := d.Check(context.Background(), "const q = gql(query)")
	if err != nil {
		t.Fatalf("outage must not error: %v", err)
	}
	if warnings != nil {
		t.Errorf("expected no warnings, got %+v", warnings)
	}
}

func TestCheck_NoDecisionsNoWarnings(t *testing.T) {
	d, _ := newTestDetector(t, newTestStore(t))
	warnings, err := d.Check(context.Background(), "const q = gql(query)")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("empty decision log produced warnings: %+v", warnings)
	}
}
