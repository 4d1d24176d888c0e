// Package patterns detects recurring code idioms through an ordered
// detector table and maintains a deduplicated example library for each
// learned pattern.
package patterns

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeatlas-ai/memcore/internal/store"
)

// LearnReport summarizes one pass over the indexed codebase.
type LearnReport struct {
	PatternsCreated int            `json:"patterns_created"`
	ExamplesAdded   int            `json:"examples_added"`
	ByCategory      map[string]int `json:"by_category"`
}

// LearnResult is the outcome of an explicit LearnPattern call. Invalid
// input (including duplicate names) comes back as Success=false with a
// message the caller can act on, never as an error.
type LearnResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Pattern *store.Pattern `json:"pattern,omitempty"`
}

// Stats is the aggregate view over all learned patterns.
type Stats struct {
	TotalPatterns int             `json:"total_patterns"`
	ByCategory    map[string]int  `json:"by_category"`
	MostUsed      []store.Pattern `json:"most_used"`
}

// Learner runs detection over stored file previews and manages the
// pattern library.
type Learner struct {
	st     *store.Store
	logger *zap.Logger
}

// NewLearner creates a Learner.
func NewLearner(st *store.Store, logger *zap.Logger) *Learner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{st: st, logger: logger.With(zap.String("component", "patterns"))}
}

// Detect runs the detector table over a code blob.
func (l *Learner) Detect(code string) []Detection {
	return Detect(code)
}

// LearnFromCodebase runs detection over every indexed file's preview.
// Each detection either appends a deduplicated example to the existing
// pattern of that name or creates the pattern. Re-running over an
// unchanged file set adds nothing.
func (l *Learner) LearnFromCodebase() (*LearnReport, error) {
	files, err := l.st.ListFiles()
	if err != nil {
		return nil, err
	}

	report := &LearnReport{ByCategory: make(map[string]int)}
	for _, f := range files {
		if f.Preview == "" {
			continue
		}
		for _, det := range Detect(f.Preview) {
			report.ByCategory[det.Category]++
			existing, err := l.st.GetPatternByName(det.Name)
			if err != nil {
				return nil, err
			}

			if existing == nil {
				p := store.Pattern{
					ID:          uuid.NewString(),
					Category:    det.Category,
					Name:        det.Name,
					Description: det.Description,
					Rules:       det.Rules,
					UsageCount:  1,
					CreatedAt:   time.Now(),
					UpdatedAt:   time.Now(),
				}
				if det.Example != "" {
					p.Examples = []store.PatternExample{{
						Code:       det.Example,
						SourceFile: f.Path,
					}}
				}
				if err := l.st.InsertPattern(p); err != nil {
					return nil, err
				}
				report.PatternsCreated++
				continue
			}

			if err := l.st.IncrementUsage(existing.ID); err != nil {
				return nil, err
			}
			if det.Example == "" {
				continue
			}
			added, err := l.st.AddExample(existing.ID, store.PatternExample{
				Code:       det.Example,
				SourceFile: f.Path,
			})
			if err != nil {
				return nil, err
			}
			if added {
				report.ExamplesAdded++
			}
		}
	}

	l.logger.Info("codebase learning pass finished",
		zap.Int("patterns_created", report.PatternsCreated),
		zap.Int("examples_added", report.ExamplesAdded))
	return report, nil
}

// Learn is the explicit, user-driven teaching path. Name collisions are
// rejected case-insensitively, as are categories outside the closed set;
// a missing category is inferred from the detector table with a custom
// fallback.
func (l *Learner) Learn(code, name, description, category string) (*LearnResult, error) {
	if strings.TrimSpace(name) == "" {
		return &LearnResult{Message: "pattern name is required"}, nil
	}
	if strings.TrimSpace(code) == "" {
		return &LearnResult{Message: "pattern code example is required"}, nil
	}

	existing, err := l.st.GetPatternByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &LearnResult{
			Message: fmt.Sprintf("pattern %q already exists (as %q); add an example to it instead", name, existing.Name),
		}, nil
	}

	if category != "" && !ValidCategory(category) {
		return &LearnResult{Message: fmt.Sprintf("unknown category %q", category)}, nil
	}
	if category == "" {
		category = InferCategory(code)
	}
	if description == "" {
		description = "Learned from a provided example"
	}

	p := store.Pattern{
		ID:          uuid.NewString(),
		Category:    category,
		Name:        name,
		Description: description,
		Examples: []store.PatternExample{{
			Code:        code,
			Explanation: "Taught explicitly",
		}},
		Rules:      deriveRules(code),
		UsageCount: 1,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := l.st.InsertPattern(p); err != nil {
		if store.IsUniqueViolation(err) {
			return &LearnResult{Message: fmt.Sprintf("pattern %q already exists", name)}, nil
		}
		return nil, err
	}

	l.logger.Info("pattern taught", zap.String("name", name), zap.String("category", category))
	return &LearnResult{Success: true, Message: "pattern learned", Pattern: &p}, nil
}

// Stats returns totals, per-category counts, and the five most-used
// patterns. Usage ties keep insertion order.
func (l *Learner) Stats() (*Stats, error) {
	all, err := l.st.ListPatterns()
	if err != nil {
		return nil, err
	}
	byCat, err := l.st.CategoryCounts()
	if err != nil {
		return nil, err
	}
	top, err := l.st.TopPatterns(5)
	if err != nil {
		return nil, err
	}
	return &Stats{TotalPatterns: len(all), ByCategory: byCat, MostUsed: top}, nil
}

// deriveRules runs a fixed set of heuristic textual checks over taught
// code and turns each finding into a rule.
func deriveRules(code string) []store.PatternRule {
	var rules []store.PatternRule

	if hasAny(code, "try {", "try{", "catch", "if err != nil", "rescue ") {
		rules = append(rules, store.PatternRule{
			Rule: "Handles errors explicitly", Severity: store.SeverityInfo,
		})
	} else {
		rules = append(rules, store.PatternRule{
			Rule: "No explicit error handling detected", Severity: store.SeverityWarning,
		})
	}

	if strings.Contains(code, "await ") {
		rules = append(rules, store.PatternRule{
			Rule: "Awaits asynchronous calls", Severity: store.SeverityInfo,
		})
	} else if strings.Contains(code, "async ") {
		rules = append(rules, store.PatternRule{
			Rule: "Declared async but never awaits", Severity: store.SeverityWarning,
		})
	}

	if hasAny(code, "!== null", "!= nil", "?.", "=== undefined") || strings.Contains(code, "if (!") {
		rules = append(rules, store.PatternRule{
			Rule: "Guards against null and undefined values", Severity: store.SeverityInfo,
		})
	}

	if strings.Contains(code, "console.log") {
		rules = append(rules, store.PatternRule{
			Rule: "Remove debug logging before committing", Severity: store.SeverityWarning,
		})
	}

	return rules
}

func hasAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
