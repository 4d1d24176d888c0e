// Package conflict compares new code against stored architectural
// decisions and flags contradictions. It is advisory only: warnings
// annotate a write, they never block one.
package conflict

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/store"
	"github.com/codeatlas-ai/memcore/internal/vector"
)

// Severities, lowest to highest.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Warning flags one contradiction between a code blob and a decision.
type Warning struct {
	DecisionID    string  `json:"decision_id"`
	DecisionTitle string  `json:"decision_title"`
	Severity      string  `json:"severity"`
	Similarity    float64 `json:"similarity"`
	Message       string  `json:"message"`
}

// Config holds detector configuration.
type Config struct {
	// SimilarityThreshold gates which decisions are even considered;
	// matches below it are never reported.
	SimilarityThreshold float64
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.5}
}

// Detector runs thresholded similarity search over decision embeddings
// and applies a technology-opposition heuristic to matches.
type Detector struct {
	st       *store.Store
	embedder embed.Embedder
	cfg      Config
	logger   *zap.Logger
}

// NewDetector creates a Detector.
func NewDetector(st *store.Store, embedder embed.Embedder, cfg Config, logger *zap.Logger) *Detector {
	if cfg.SimilarityThreshold <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		st:       st,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "conflict")),
	}
}

// Check embeds the code and reports contradictions with semantically
// related, still-accepted decisions. Recoverable failures degrade to an
// empty result.
func (d *Detector) Check(ctx context.Context, code string) ([]Warning, error) {
	qvec, err := d.embedder.Embed(ctx, code)
	if err != nil {
		d.logger.Warn("code embedding failed, conflict check skipped", zap.Error(err))
		return nil, nil
	}

	embs, err := d.st.ListEmbeddings(store.OwnerDecision)
	if err != nil {
		return nil, err
	}
	candidates := make([]vector.Candidate, 0, len(embs))
	for _, e := range embs {
		candidates = append(candidates, vector.Candidate{
			ID: e.OwnerID, Vector: e.Vector, CreatedAt: e.CreatedAt,
		})
	}

	var warnings []Warning
	for _, m := range vector.AboveThreshold(qvec, candidates, d.cfg.SimilarityThreshold) {
		dec, err := d.st.GetDecision(m.ID)
		if err != nil {
			return nil, err
		}
		if dec == nil || dec.Status != store.StatusAccepted {
			continue
		}
		if w, ok := contradicts(code, dec, m.Score); ok {
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}

// ─── Secondary heuristic ─────────────────────────────────────────────────────

// techMarker recognizes one technology both in code and in decision text.
type techMarker struct {
	name   string
	codeRe *regexp.Regexp
	word   string
}

var techMarkers = []techMarker{
	{"GraphQL", regexp.MustCompile(`(?i)graphql|\bgql\b|apollo`), "graphql"},
	{"REST", regexp.MustCompile(`(?i)\brest(ful)?\b|\bexpress\.Router\b`), "rest"},
	{"MongoDB", regexp.MustCompile(`(?i)mongodb|mongoose|\bmongo\b`), "mongodb"},
	{"PostgreSQL", regexp.MustCompile(`(?i)postgres|\bpg\b|pgx`), "postgres"},
	{"Redux", regexp.MustCompile(`(?i)\bredux\b|createStore|useSelector`), "redux"},
	{"WebSocket", regexp.MustCompile(`(?i)websocket|socket\.io`), "websocket"},
	{"Polling", regexp.MustCompile(`(?i)setInterval\s*\(.*fetch|long.?poll`), "polling"},
	{"ORM", regexp.MustCompile(`(?i)\bprisma\b|\bsequelize\b|\btypeorm\b|gorm\b`), "orm"},
	{"Raw SQL", regexp.MustCompile(`(?i)SELECT\s+.+\s+FROM|INSERT\s+INTO`), "raw sql"},
}

// oppositions are technology pairs where a decision choosing one side
// contradicts code using the other.
var oppositions = map[string]string{
	"graphql":   "rest",
	"rest":      "graphql",
	"mongodb":   "postgres",
	"postgres":  "mongodb",
	"websocket": "polling",
	"polling":   "websocket",
	"orm":       "raw sql",
	"raw sql":   "orm",
}

var rejectionWords = []string{"not ", "no ", "never ", "avoid", "instead of", "don't use", "do not use", "reject", "drop", "migrate away from", "stop using"}

// contradicts applies the textual secondary check to one matched
// decision: a contradiction exists when the decision explicitly rejects a
// technology the code uses, or chooses a technology whose opposite the
// code uses.
func contradicts(code string, dec *store.Decision, score float64) (Warning, bool) {
	text := strings.ToLower(dec.Title + " " + dec.Description + " " + strings.Join(dec.Tags, " "))

	for _, tm := range techMarkers {
		if !tm.codeRe.MatchString(code) {
			continue
		}

		if rejects(text, tm.word) {
			sev := SeverityMedium
			if score >= 0.75 {
				sev = SeverityHigh
			}
			return Warning{
				DecisionID:    dec.ID,
				DecisionTitle: dec.Title,
				Severity:      sev,
				Similarity:    score,
				Message:       fmt.Sprintf("code appears to use %s, which the decision %q rejected", tm.name, dec.Title),
			}, true
		}

		opposite, ok := oppositions[tm.word]
		if ok && mentionsPositively(text, opposite) {
			return Warning{
				DecisionID:    dec.ID,
				DecisionTitle: dec.Title,
				Severity:      SeverityLow,
				Similarity:    score,
				Message:       fmt.Sprintf("code uses %s but the decision %q chose %s", tm.name, dec.Title, opposite),
			}, true
		}
	}
	return Warning{}, false
}

// rejects reports whether the text negates the technology: a rejection
// word appearing shortly before the mention.
func rejects(text, word string) bool {
	idx := strings.Index(text, word)
	for idx >= 0 {
		start := idx - 40
		if start < 0 {
			start = 0
		}
		window := text[start:idx]
		for _, neg := range rejectionWords {
			if strings.Contains(window, neg) {
				return true
			}
		}
		next := strings.Index(text[idx+len(word):], word)
		if next < 0 {
			break
		}
		idx = idx + len(word) + next
	}
	return false
}

// mentionsPositively reports whether the text mentions the technology
// without rejecting it.
func mentionsPositively(text, word string) bool {
	return strings.Contains(text, word) && !rejects(text, word)
}
