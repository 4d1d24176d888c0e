// Package decisions records and retrieves architectural decisions,
// mediating between the recency cache and the persistent store.
package decisions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeatlas-ai/memcore/internal/cache"
	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/store"
	"github.com/codeatlas-ai/memcore/internal/vector"
)

// ErrInvalidInput marks a mutation rejected for a missing or malformed
// field. The message is meant to be surfaced to the caller verbatim.
type ErrInvalidInput struct {
	Message string
}

func (e *ErrInvalidInput) Error() string { return e.Message }

// RecordParams holds the input for recording a decision.
type RecordParams struct {
	Title       string
	Description string
	Files       []string
	Tags        []string
	Author      string
}

// SearchResult pairs a decision with its similarity score.
type SearchResult struct {
	Decision store.Decision `json:"decision"`
	Score    float64        `json:"score"`
}

// Config holds tracker configuration.
type Config struct {
	// CacheSize bounds the recency cache in front of the store.
	CacheSize int
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{CacheSize: 50}
}

// Tracker writes decisions through the recency cache into the store and
// answers recent / semantic queries over them.
type Tracker struct {
	st       *store.Store
	recent   *cache.Recency[store.Decision]
	embedder embed.Embedder
	cfg      Config
	logger   *zap.Logger
}

// NewTracker creates a Tracker.
func NewTracker(st *store.Store, embedder embed.Embedder, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.CacheSize <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		st:       st,
		recent:   cache.New[store.Decision](cfg.CacheSize),
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "decisions")),
	}
}

// Record creates a decision, persists it, embeds title+description+tags,
// and mirrors the decision into the recency cache. An embedding failure
// degrades search for this decision but never fails the record.
func (t *Tracker) Record(ctx context.Context, p RecordParams) (*store.Decision, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, &ErrInvalidInput{Message: "decision title is required"}
	}
	if strings.TrimSpace(p.Description) == "" {
		return nil, &ErrInvalidInput{Message: "decision description is required"}
	}

	d := store.Decision{
		ID:          uuid.NewString(),
		Title:       p.Title,
		Description: p.Description,
		Files:       p.Files,
		Tags:        p.Tags,
		Author:      p.Author,
		Status:      store.StatusAccepted,
		CreatedAt:   time.Now(),
	}
	if err := t.st.InsertDecision(d); err != nil {
		return nil, err
	}

	text := embeddingText(d)
	if vec, err := t.embedder.Embed(ctx, text); err != nil {
		t.logger.Warn("decision embedding failed, semantic search degraded",
			zap.String("id", d.ID), zap.Error(err))
	} else if err := t.st.UpsertEmbedding(store.OwnerDecision, d.ID, vec); err != nil {
		return nil, err
	}

	t.recent.Push(d)
	t.logger.Info("decision recorded", zap.String("id", d.ID), zap.String("title", d.Title))
	return &d, nil
}

// Recent returns up to limit decisions, newest first: served from the
// cache when it holds enough, otherwise from the store.
func (t *Tracker) Recent(limit int) ([]store.Decision, error) {
	if cached, ok := t.recent.Recent(limit); ok {
		return cached, nil
	}
	return t.st.RecentDecisions(limit)
}

// Get returns one decision, or nil when the id is unknown.
func (t *Tracker) Get(id string) (*store.Decision, error) {
	return t.st.GetDecision(id)
}

// Search embeds the query and ranks all stored decision embeddings by
// cosine similarity. Recoverable failures return an empty result.
// Superseded decisions are included; callers wanting current truth filter
// on status themselves.
func (t *Tracker) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	qvec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		t.logger.Warn("query embedding failed", zap.Error(err))
		return nil, nil
	}

	embs, err := t.st.ListEmbeddings(store.OwnerDecision)
	if err != nil {
		return nil, err
	}
	candidates := make([]vector.Candidate, 0, len(embs))
	for _, e := range embs {
		candidates = append(candidates, vector.Candidate{
			ID: e.OwnerID, Vector: e.Vector, CreatedAt: e.CreatedAt,
		})
	}

	var out []SearchResult
	for _, m := range vector.TopK(qvec, candidates, limit) {
		d, err := t.st.GetDecision(m.ID)
		if err != nil {
			return nil, err
		}
		if d == nil {
			continue
		}
		out = append(out, SearchResult{Decision: *d, Score: m.Score})
	}
	return out, nil
}

// Supersede flips oldID to superseded by newID. Returns false when either
// id is unknown. History is preserved: nothing is deleted.
func (t *Tracker) Supersede(oldID, newID string) (bool, error) {
	ok, err := t.st.SupersedeDecision(oldID, newID)
	if err != nil || !ok {
		return ok, err
	}
	// The cached copy of oldID is stale now; rebuild from the store.
	if err := t.reloadCache(); err != nil {
		return true, err
	}
	return true, nil
}

// CacheLen reports how many decisions the recency tier holds.
func (t *Tracker) CacheLen() int {
	return t.recent.Len()
}

// DropCache wipes the recency tier; reads fall back to the store, which
// must reproduce identical results.
func (t *Tracker) DropCache() {
	t.recent.Clear()
}

func (t *Tracker) reloadCache() error {
	ds, err := t.st.RecentDecisions(t.cfg.CacheSize)
	if err != nil {
		return err
	}
	t.recent.Clear()
	for i := len(ds) - 1; i >= 0; i-- {
		t.recent.Push(ds[i])
	}
	return nil
}

func embeddingText(d store.Decision) string {
	parts := []string{d.Title, d.Description}
	if len(d.Tags) > 0 {
		parts = append(parts, strings.Join(d.Tags, " "))
	}
	return strings.Join(parts, "\n")
}
