// Package ghost tracks the working context of a session: which files are
// being touched, what was edited, and what was asked. It backs context
// resurrection after a switch and "déjà vu" recall of semantically
// similar past queries.
package ghost

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/store"
	"github.com/codeatlas-ai/memcore/internal/vector"
)

// Config holds tracker configuration.
type Config struct {
	// MaxEdits caps the per-context edit history; the oldest entries are
	// dropped first.
	MaxEdits int
	// MaxRecentContexts bounds the paused-context list.
	MaxRecentContexts int
	// DejaVuThreshold is the minimum similarity for past-query recall.
	DejaVuThreshold float64
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		MaxEdits:          50,
		MaxRecentContexts: 10,
		DejaVuThreshold:   0.6,
	}
}

// HotContext is the current context verbatim plus a generated summary.
type HotContext struct {
	ContextID string              `json:"context_id"`
	Name      string              `json:"name"`
	Files     []store.TouchedFile `json:"files"`
	Edits     []store.EditRecord  `json:"edits"`
	Queries   []store.QueryRecord `json:"queries"`
	Summary   string              `json:"summary"`
}

// DejaVuHit is one semantically similar past query with its outcome.
type DejaVuHit struct {
	Query      store.QueryRecord `json:"query"`
	Similarity float64           `json:"similarity"`
}

// Tracker owns the single active context and a bounded list of paused
// ones. Every mutation rebuilds the full snapshot and upserts it, so the
// store always holds a complete copy.
type Tracker struct {
	mu       sync.Mutex
	st       *store.Store
	embedder embed.Embedder
	cfg      Config
	logger   *zap.Logger
	active   store.ContextRecord
	recent   []store.ContextRecord
}

// NewTracker creates a Tracker, resurrecting the most recent active
// context from the store when one exists and refilling the paused list.
func NewTracker(st *store.Store, embedder embed.Embedder, cfg Config, logger *zap.Logger) (*Tracker, error) {
	if cfg.MaxEdits <= 0 || cfg.MaxRecentContexts <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		st:       st,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "ghost")),
	}

	stored, err := st.ListContexts()
	if err != nil {
		return nil, err
	}
	for _, c := range stored {
		if c.Status == store.ContextActive {
			if t.active.ID == "" {
				t.active = c
				continue
			}
			// A crash between pausing one context and persisting its
			// replacement can leave two actives; demote the surplus.
			c.Status = store.ContextPaused
			if err := st.SaveContext(c); err != nil {
				return nil, err
			}
		}
		if len(t.recent) < cfg.MaxRecentContexts {
			t.recent = append(t.recent, c)
		}
	}
	if t.active.ID == "" {
		t.active = newContext("session")
		if err := st.SaveContext(t.active); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FileOpened increments the touch count for a path in the active context.
func (t *Tracker) FileOpened(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch(path)
	return t.persist()
}

// FileEdited appends to the capped edit history.
func (t *Tracker) FileEdited(path, summary string, lines []int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active.Edits = append(t.active.Edits, store.EditRecord{
		Path:     path,
		Summary:  summary,
		Lines:    lines,
		EditedAt: time.Now(),
	})
	if len(t.active.Edits) > t.cfg.MaxEdits {
		t.active.Edits = t.active.Edits[len(t.active.Edits)-t.cfg.MaxEdits:]
	}
	return t.persist()
}

// QueryRecorded appends a query, touches every file its results used, and
// embeds the query text for later déjà-vu recall. An embedding failure
// only degrades recall for this query.
func (t *Tracker) QueryRecorded(ctx context.Context, text string, filesUsed []string, wasUseful bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	qr := store.QueryRecord{
		ID:        uuid.NewString(),
		Text:      text,
		FilesUsed: filesUsed,
		WasUseful: wasUseful,
		AskedAt:   time.Now(),
	}
	t.active.Queries = append(t.active.Queries, qr)
	for _, p := range filesUsed {
		t.touch(p)
	}
	if err := t.persist(); err != nil {
		return err
	}

	if vec, err := t.embedder.Embed(ctx, text); err != nil {
		t.logger.Warn("query embedding failed, déjà vu degraded", zap.Error(err))
	} else if err := t.st.UpsertEmbedding(store.OwnerQuery, qr.ID, vec); err != nil {
		return err
	}
	return nil
}

// Hot returns the active context verbatim, files ranked by touch count,
// with a generated natural-language summary.
func (t *Tracker) Hot() HotContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := append([]store.TouchedFile(nil), t.active.Files...)
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].TouchCount > files[j].TouchCount
	})

	return HotContext{
		ContextID: t.active.ID,
		Name:      t.active.Name,
		Files:     files,
		Edits:     append([]store.EditRecord(nil), t.active.Edits...),
		Queries:   append([]store.QueryRecord(nil), t.active.Queries...),
		Summary:   summarize(t.active.Name, files, len(t.active.Edits), len(t.active.Queries)),
	}
}

// StartNew pauses the current context into the bounded recent list and
// starts a fresh active one.
func (t *Tracker) StartNew(name string) (*store.ContextRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.pauseActive(); err != nil {
		return nil, err
	}
	t.active = newContext(name)
	if err := t.persist(); err != nil {
		return nil, err
	}
	t.logger.Info("context started", zap.String("id", t.active.ID), zap.String("name", name))
	snapshot := t.active
	return &snapshot, nil
}

// SwitchToRecent swaps a paused context back to active. Returns false
// when the id is not in the recent list.
func (t *Tracker) SwitchToRecent(id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, c := range t.recent {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	target := t.recent[idx]
	t.recent = append(t.recent[:idx], t.recent[idx+1:]...)
	if err := t.pauseActive(); err != nil {
		return false, err
	}
	target.Status = store.ContextActive
	t.active = target
	return true, t.persist()
}

// ActiveID returns the active context's id.
func (t *Tracker) ActiveID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.ID
}

// DejaVu embeds the query and surfaces past queries above the similarity
// threshold, with the files they resolved to and whether they helped.
// Recoverable failures return an empty result.
func (t *Tracker) DejaVu(ctx context.Context, query string) ([]DejaVuHit, error) {
	qvec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		t.logger.Warn("déjà vu embedding failed", zap.Error(err))
		return nil, nil
	}

	// Snapshot the active queries under the lock; the store and embedder
	// calls below must not run with it held.
	t.mu.Lock()
	activeQueries := append([]store.QueryRecord(nil), t.active.Queries...)
	t.mu.Unlock()

	embs, err := t.st.ListEmbeddings(store.OwnerQuery)
	if err != nil {
		return nil, err
	}
	candidates := make([]vector.Candidate, 0, len(embs))
	for _, e := range embs {
		candidates = append(candidates, vector.Candidate{
			ID: e.OwnerID, Vector: e.Vector, CreatedAt: e.CreatedAt,
		})
	}

	byID, err := t.queryIndex(activeQueries)
	if err != nil {
		return nil, err
	}

	var hits []DejaVuHit
	for _, m := range vector.AboveThreshold(qvec, candidates, t.cfg.DejaVuThreshold) {
		qr, ok := byID[m.ID]
		if !ok {
			continue
		}
		hits = append(hits, DejaVuHit{Query: qr, Similarity: m.Score})
	}
	return hits, nil
}

// ─── internals ───────────────────────────────────────────────────────────────

func newContext(name string) store.ContextRecord {
	now := time.Now()
	return store.ContextRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    store.ContextActive,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// touch increments a path's counter; counts are monotonic for the
// lifetime of the context and reset only when a new one starts.
func (t *Tracker) touch(path string) {
	for i := range t.active.Files {
		if t.active.Files[i].Path == path {
			t.active.Files[i].TouchCount++
			return
		}
	}
	t.active.Files = append(t.active.Files, store.TouchedFile{Path: path, TouchCount: 1})
}

func (t *Tracker) persist() error {
	t.active.UpdatedAt = time.Now()
	return t.st.SaveContext(t.active)
}

func (t *Tracker) pauseActive() error {
	t.active.Status = store.ContextPaused
	t.active.UpdatedAt = time.Now()
	if err := t.st.SaveContext(t.active); err != nil {
		return err
	}
	t.recent = append([]store.ContextRecord{t.active}, t.recent...)
	if len(t.recent) > t.cfg.MaxRecentContexts {
		t.recent = t.recent[:t.cfg.MaxRecentContexts]
	}
	return nil
}

// queryIndex maps query id to record across every stored snapshot plus
// the caller's snapshot of the active context's queries.
func (t *Tracker) queryIndex(active []store.QueryRecord) (map[string]store.QueryRecord, error) {
	byID := make(map[string]store.QueryRecord)
	stored, err := t.st.ListContexts()
	if err != nil {
		return nil, err
	}
	for _, c := range stored {
		for _, q := range c.Queries {
			byID[q.ID] = q
		}
	}
	for _, q := range active {
		byID[q.ID] = q
	}
	return byID, nil
}

func summarize(name string, files []store.TouchedFile, edits, queries int) string {
	if len(files) == 0 {
		return fmt.Sprintf("Context %q has no activity yet.", name)
	}

	top := files
	if len(top) > 3 {
		top = top[:3]
	}
	parts := make([]string, 0, len(top))
	for _, f := range top {
		parts = append(parts, fmt.Sprintf("%s (%d)", f.Path, f.TouchCount))
	}

	return fmt.Sprintf("Context %q: %d file(s) touched, %d edit(s), %d query(ies). Hottest: %s.",
		name, len(files), edits, queries, strings.Join(parts, ", "))
}
