package memcore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeatlas-ai/memcore/internal/conflict"
	"github.com/codeatlas-ai/memcore/internal/decisions"
	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/ghost"
	"github.com/codeatlas-ai/memcore/internal/gitstate"
	"github.com/codeatlas-ai/memcore/internal/indexer"
	"github.com/codeatlas-ai/memcore/internal/patterns"
	"github.com/codeatlas-ai/memcore/internal/store"
	"github.com/codeatlas-ai/memcore/internal/vector"
)

// Embedder turns text into a fixed-dimension vector. The host supplies
// the implementation; NewMockEmbedder serves tests and offline use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// NewMockEmbedder returns a deterministic, dependency-free Embedder.
// Token overlap between texts maps to cosine similarity.
func NewMockEmbedder(dim int) Embedder { return embed.NewMock(dim) }

// Aliases for the engine's result types.
type (
	Decision        = store.Decision
	DecisionMatch   = decisions.SearchResult
	FileRecord      = store.FileRecord
	Pattern         = store.Pattern
	Detection       = patterns.Detection
	LearnReport     = patterns.LearnReport
	LearnResult     = patterns.LearnResult
	PatternStats    = patterns.Stats
	ConflictWarning = conflict.Warning
	Commit          = gitstate.Commit
	ContextRecord   = store.ContextRecord
	HotContext      = ghost.HotContext
	DejaVuHit       = ghost.DejaVuHit
	CriticalEntry   = store.CriticalEntry
	Watcher         = indexer.Watcher
)

// ErrInvalidInput is returned when a write is rejected for missing or
// malformed fields.
type ErrInvalidInput = decisions.ErrInvalidInput

// Config configures an Engine. Zero values take defaults.
type Config struct {
	// DataDir holds the SQLite database. Defaults to ~/.memcore.
	DataDir string
	// RepoDir is the git repository to watch for staleness. Empty means
	// the working directory.
	RepoDir string
	// Embedder provides vectors for similarity search. Defaults to a
	// mock embedder so the engine works without a model.
	Embedder Embedder
	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// DecisionCacheSize bounds the decision recency cache.
	DecisionCacheSize int
	// ConflictThreshold is the minimum similarity before a decision is
	// compared against new code.
	ConflictThreshold float64
	// DejaVuThreshold is the minimum similarity for past-query recall.
	DejaVuThreshold float64
	// MaxEdits caps the per-context edit history.
	MaxEdits int
	// MaxRecentContexts bounds the paused-context list.
	MaxRecentContexts int
	// PreviewLength caps stored file previews, in runes.
	PreviewLength int
	// ReportInitialHead makes the first staleness check after startup
	// report true instead of priming silently on an unseen head.
	ReportInitialHead bool
}

// Engine is the façade over the memory subsystems. All methods are safe
// for concurrent use.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	st       *store.Store
	embedder embed.Embedder

	decisions *decisions.Tracker
	patterns  *patterns.Learner
	conflicts *conflict.Detector
	git       *gitstate.Checker
	ghost     *ghost.Tracker
	indexer   *indexer.Indexer
}

// New opens the store and wires the subsystems.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Embedder == nil {
		cfg.Embedder = embed.NewMock(embed.MockDimensions)
	}

	storeCfg := store.DefaultConfig()
	if cfg.DataDir != "" {
		storeCfg.DataDir = cfg.DataDir
	}
	st, err := store.New(storeCfg)
	if err != nil {
		return nil, err
	}

	decCfg := decisions.DefaultConfig()
	if cfg.DecisionCacheSize > 0 {
		decCfg.CacheSize = cfg.DecisionCacheSize
	}
	confCfg := conflict.DefaultConfig()
	if cfg.ConflictThreshold > 0 {
		confCfg.SimilarityThreshold = cfg.ConflictThreshold
	}
	ghostCfg := ghost.DefaultConfig()
	if cfg.DejaVuThreshold > 0 {
		ghostCfg.DejaVuThreshold = cfg.DejaVuThreshold
	}
	if cfg.MaxEdits > 0 {
		ghostCfg.MaxEdits = cfg.MaxEdits
	}
	if cfg.MaxRecentContexts > 0 {
		ghostCfg.MaxRecentContexts = cfg.MaxRecentContexts
	}
	ixCfg := indexer.DefaultConfig()
	if cfg.PreviewLength > 0 {
		ixCfg.PreviewLength = cfg.PreviewLength
	}
	gitCfg := gitstate.DefaultConfig()
	gitCfg.PrimedAtStartup = !cfg.ReportInitialHead

	gt, err := ghost.NewTracker(st, cfg.Embedder, ghostCfg, cfg.Logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		logger:    cfg.Logger,
		st:        st,
		embedder:  cfg.Embedder,
		decisions: decisions.NewTracker(st, cfg.Embedder, decCfg, cfg.Logger),
		patterns:  patterns.NewLearner(st, cfg.Logger),
		conflicts: conflict.NewDetector(st, cfg.Embedder, confCfg, cfg.Logger),
		git:       gitstate.NewChecker(cfg.RepoDir, st, gitCfg, cfg.Logger),
		ghost:     gt,
		indexer:   indexer.New(st, cfg.Embedder, ixCfg, cfg.Logger),
	}, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error { return e.st.Close() }

// ─── Decisions ───────────────────────────────────────────────────────────────

// RecordDecision persists an architectural decision and embeds it for
// later search. An *ErrInvalidInput is returned when title or
// description is empty.
func (e *Engine) RecordDecision(ctx context.Context, title, description string, files, tags []string) (*Decision, error) {
	return e.decisions.Record(ctx, decisions.RecordParams{
		Title:       title,
		Description: description,
		Files:       files,
		Tags:        tags,
	})
}

// GetRecentDecisions returns the newest decisions, served from the
// recency cache when it holds enough.
func (e *Engine) GetRecentDecisions(limit int) ([]Decision, error) {
	return e.decisions.Recent(limit)
}

// GetDecision returns a decision by id, or nil when unknown.
func (e *Engine) GetDecision(id string) (*Decision, error) {
	return e.decisions.Get(id)
}

// SupersedeDecision marks oldID as superseded by newID, preserving
// history. Returns false when either id is unknown.
func (e *Engine) SupersedeDecision(oldID, newID string) (bool, error) {
	return e.decisions.Supersede(oldID, newID)
}

// SearchDecisions returns decisions semantically similar to the query,
// best first with recency breaking ties. An unavailable embedder yields
// an empty result, not an error.
func (e *Engine) SearchDecisions(ctx context.Context, query string, limit int) ([]DecisionMatch, error) {
	return e.decisions.Search(ctx, query, limit)
}

// ─── Patterns ────────────────────────────────────────────────────────────────

// LearnFromCodebase scans every indexed file preview for recognizable
// patterns. Re-running over unchanged files adds nothing.
func (e *Engine) LearnFromCodebase() (*LearnReport, error) {
	return e.patterns.LearnFromCodebase()
}

// LearnPattern records a named pattern from an explicit example. Name
// collisions, unknown categories, and missing fields come back as
// unsuccessful results.
func (e *Engine) LearnPattern(code, name, description, category string) (*LearnResult, error) {
	return e.patterns.Learn(code, name, description, category)
}

// DetectPatterns runs the detector table over a snippet without
// persisting anything.
func (e *Engine) DetectPatterns(code string) []Detection {
	return e.patterns.Detect(code)
}

// GetPatternStats summarizes stored patterns: totals, per-category
// counts, and the most used.
func (e *Engine) GetPatternStats() (*PatternStats, error) {
	return e.patterns.Stats()
}

// ─── Conflicts ───────────────────────────────────────────────────────────────

// CheckConflicts warns when a snippet appears to contradict recorded
// decisions. Warnings are advisory; nothing is blocked.
func (e *Engine) CheckConflicts(ctx context.Context, code string) ([]ConflictWarning, error) {
	return e.conflicts.Check(ctx, code)
}

// ─── Git staleness ───────────────────────────────────────────────────────────

// HasNewCommits reports whether HEAD moved since the last observation,
// once per move. Outside a repository it is always false.
func (e *Engine) HasNewCommits() bool { return e.git.HasNewCommits() }

// UpdateCachedHead records the current HEAD as seen.
func (e *Engine) UpdateCachedHead() error { return e.git.UpdateCachedHead() }

// ShouldCheckGit rate-limits staleness polling.
func (e *Engine) ShouldCheckGit(threshold time.Duration) bool {
	return e.git.ShouldCheck(threshold)
}

// CommitsBetween lists commits in a hash range, oldest omitted.
func (e *Engine) CommitsBetween(since, until string) []Commit {
	return e.git.LogRange(since, until)
}

// FileHistory lists the commits touching one path.
func (e *Engine) FileHistory(path string) []Commit {
	return e.git.FileHistory(path)
}

// ─── Working context ─────────────────────────────────────────────────────────

// OnFileOpened notes a file touch in the active context.
func (e *Engine) OnFileOpened(path string) error {
	return e.ghost.FileOpened(path)
}

// OnFileEdited notes an edit in the active context's capped history.
func (e *Engine) OnFileEdited(path, summary string, lines []int) error {
	return e.ghost.FileEdited(path, summary, lines)
}

// OnQuery records a question, the files its answer used, and whether it
// helped. The query is embedded for déjà-vu recall.
func (e *Engine) OnQuery(ctx context.Context, text string, filesUsed []string, wasUseful bool) error {
	return e.ghost.QueryRecorded(ctx, text, filesUsed, wasUseful)
}

// GetHotContext returns the active context with files ranked by touch
// count and a generated summary.
func (e *Engine) GetHotContext() HotContext { return e.ghost.Hot() }

// StartNewContext pauses the active context and begins a fresh one.
func (e *Engine) StartNewContext(name string) (*ContextRecord, error) {
	return e.ghost.StartNew(name)
}

// SwitchToRecent resumes a paused context. Returns false when the id is
// not in the recent list.
func (e *Engine) SwitchToRecent(id string) (bool, error) {
	return e.ghost.SwitchToRecent(id)
}

// FindDejaVu surfaces past queries similar to this one, with the files
// they resolved to and whether they were useful.
func (e *Engine) FindDejaVu(ctx context.Context, query string) ([]DejaVuHit, error) {
	return e.ghost.DejaVu(ctx, query)
}

// ─── Critical context ────────────────────────────────────────────────────────

// MarkCritical stores context that must survive any future compaction.
func (e *Engine) MarkCritical(kind, content, reason string) (*CriticalEntry, error) {
	if kind == "" || content == "" {
		return nil, &ErrInvalidInput{Message: "kind and content are required"}
	}
	entry := CriticalEntry{
		ID:            uuid.NewString(),
		Kind:          kind,
		Content:       content,
		Reason:        reason,
		NeverCompress: true,
		CreatedAt:     time.Now(),
	}
	if err := e.st.InsertCritical(entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetCriticalContext returns every critical entry, newest first.
func (e *Engine) GetCriticalContext() ([]CriticalEntry, error) {
	return e.st.ListCritical()
}

// ─── Indexing ────────────────────────────────────────────────────────────────

// IndexFile reads a file from disk and indexes it. Unchanged content is
// a no-op.
func (e *Engine) IndexFile(ctx context.Context, path string) (*FileRecord, error) {
	return e.indexer.IndexFile(ctx, path)
}

// IndexContent indexes caller-supplied content for a path.
func (e *Engine) IndexContent(ctx context.Context, path string, content []byte) (*FileRecord, error) {
	return e.indexer.IndexContent(ctx, path, content)
}

// RemoveFile drops a file's record and embedding.
func (e *Engine) RemoveFile(path string) error {
	return e.indexer.RemoveFile(path)
}

// SearchFiles returns indexed files semantically similar to the query.
func (e *Engine) SearchFiles(ctx context.Context, query string, limit int) ([]FileMatch, error) {
	qvec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("file search embedding failed", zap.Error(err))
		return nil, nil
	}
	embs, err := e.st.ListEmbeddings(store.OwnerFile)
	if err != nil {
		return nil, err
	}
	candidates := make([]vector.Candidate, 0, len(embs))
	for _, em := range embs {
		candidates = append(candidates, vector.Candidate{
			ID: em.OwnerID, Vector: em.Vector, CreatedAt: em.CreatedAt,
		})
	}
	var out []FileMatch
	for _, m := range vector.TopK(qvec, candidates, limit) {
		rec, err := e.st.GetFile(m.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, FileMatch{File: *rec, Score: m.Score})
	}
	return out, nil
}

// FileMatch pairs an indexed file with its similarity score.
type FileMatch struct {
	File  FileRecord `json:"file"`
	Score float64    `json:"score"`
}

// Watch returns a filesystem watcher feeding this engine's indexer.
// The caller adds directories and runs its loop.
func (e *Engine) Watch(debounce time.Duration) (*Watcher, error) {
	return indexer.NewWatcher(e.indexer, debounce, e.logger)
}
