package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Pattern categories. The set is closed; anything a detector cannot
// classify falls back to CategoryCustom.
const (
	CategoryErrorHandling = "error_handling"
	CategoryAPICall       = "api_call"
	CategoryComponent     = "component"
	CategoryValidation    = "validation"
	CategoryDataFetching  = "data_fetching"
	CategoryLogging       = "logging"
	CategoryCustom        = "custom"
)

// Rule severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Pattern is a learned code idiom with its example library and rule set.
// Patterns are never deleted and their usage count only grows.
type Pattern struct {
	ID          string           `json:"id"`
	Category    string           `json:"category"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Examples    []PatternExample `json:"examples,omitempty"`
	Rules       []PatternRule    `json:"rules,omitempty"`
	UsageCount  int              `json:"usage_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PatternExample is one deduplicated code sample attached to a pattern.
type PatternExample struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
	SourceFile  string `json:"source_file"`
	AntiPattern bool   `json:"anti_pattern"`
}

// PatternRule is one best-practice rule attached to a pattern.
type PatternRule struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
}

// InsertPattern writes a pattern with its rules and examples in one
// transaction. Name collisions (case-insensitive) surface as errors via
// the unique name_folded index; callers probing for duplicates should use
// GetPatternByName first.
func (s *Store) InsertPattern(p Pattern) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: insert pattern: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO patterns (id, category, name, name_folded, description, usage_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Category, p.Name, FoldName(p.Name), p.Description, p.UsageCount,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert pattern %q: %w", p.Name, err)
	}

	for i, r := range p.Rules {
		if _, err := tx.Exec(
			`INSERT INTO pattern_rules (pattern_id, rule, severity, position) VALUES (?, ?, ?, ?)`,
			p.ID, r.Rule, r.Severity, i,
		); err != nil {
			return fmt.Errorf("store: insert pattern rule: %w", err)
		}
	}
	for _, ex := range p.Examples {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO pattern_examples (pattern_id, code, explanation, source_file, anti_pattern, normalized_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, ex.Code, ex.Explanation, ex.SourceFile, boolToInt(ex.AntiPattern),
			HashNormalizedCode(ex.Code), formatTime(time.Now()),
		); err != nil {
			return fmt.Errorf("store: insert pattern example: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert pattern %q: %w", p.Name, err)
	}
	return nil
}

// GetPattern returns a pattern with examples and rules, or nil when the id
// is unknown.
func (s *Store) GetPattern(id string) (*Pattern, error) {
	row := s.db.QueryRow(
		`SELECT id, category, name, description, usage_count, created_at, updated_at
		 FROM patterns WHERE id = ?`, id,
	)
	p, err := scanPattern(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pattern %s: %w", id, err)
	}
	if err := s.loadPatternDetails(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPatternByName looks a pattern up case-insensitively, or returns nil.
func (s *Store) GetPatternByName(name string) (*Pattern, error) {
	row := s.db.QueryRow(
		`SELECT id, category, name, description, usage_count, created_at, updated_at
		 FROM patterns WHERE name_folded = ?`, FoldName(name),
	)
	p, err := scanPattern(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pattern %q: %w", name, err)
	}
	if err := s.loadPatternDetails(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddExample appends a deduplicated example to a pattern. Returns false
// when an example with the same normalized code already exists.
func (s *Store) AddExample(patternID string, ex PatternExample) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO pattern_examples (pattern_id, code, explanation, source_file, anti_pattern, normalized_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		patternID, ex.Code, ex.Explanation, ex.SourceFile, boolToInt(ex.AntiPattern),
		HashNormalizedCode(ex.Code), formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("store: add example to %s: %w", patternID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: add example to %s: %w", patternID, err)
	}
	if n > 0 {
		if _, err := s.db.Exec(
			`UPDATE patterns SET updated_at = ? WHERE id = ?`,
			formatTime(time.Now()), patternID,
		); err != nil {
			return false, fmt.Errorf("store: touch pattern %s: %w", patternID, err)
		}
	}
	return n > 0, nil
}

// IncrementUsage bumps a pattern's monotonic usage counter.
func (s *Store) IncrementUsage(patternID string) error {
	if _, err := s.db.Exec(
		`UPDATE patterns SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), patternID,
	); err != nil {
		return fmt.Errorf("store: increment usage %s: %w", patternID, err)
	}
	return nil
}

// ListPatterns returns all patterns without examples or rules, in
// insertion order.
func (s *Store) ListPatterns() ([]Pattern, error) {
	rows, err := s.db.Query(
		`SELECT id, category, name, description, usage_count, created_at, updated_at
		 FROM patterns ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Pattern
	for rows.Next() {
		p, err := scanPattern(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// TopPatterns returns the n most-used patterns; ties keep insertion order.
func (s *Store) TopPatterns(n int) ([]Pattern, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := s.db.Query(
		`SELECT id, category, name, description, usage_count, created_at, updated_at
		 FROM patterns ORDER BY usage_count DESC, created_at, id LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("store: top patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Pattern
	for rows.Next() {
		p, err := scanPattern(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CategoryCounts returns the number of patterns per category.
func (s *Store) CategoryCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT category, COUNT(*) FROM patterns GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("store: category counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("store: scan category count: %w", err)
		}
		counts[cat] = n
	}
	return counts, rows.Err()
}

func (s *Store) loadPatternDetails(p *Pattern) error {
	exRows, err := s.db.Query(
		`SELECT code, explanation, source_file, anti_pattern
		 FROM pattern_examples WHERE pattern_id = ? ORDER BY id`, p.ID,
	)
	if err != nil {
		return fmt.Errorf("store: load examples %s: %w", p.ID, err)
	}
	defer func() { _ = exRows.Close() }()
	for exRows.Next() {
		var ex PatternExample
		var anti int
		if err := exRows.Scan(&ex.Code, &ex.Explanation, &ex.SourceFile, &anti); err != nil {
			return fmt.Errorf("store: scan example: %w", err)
		}
		ex.AntiPattern = anti != 0
		p.Examples = append(p.Examples, ex)
	}
	if err := exRows.Err(); err != nil {
		return err
	}

	ruleRows, err := s.db.Query(
		`SELECT rule, severity FROM pattern_rules WHERE pattern_id = ? ORDER BY position, id`, p.ID,
	)
	if err != nil {
		return fmt.Errorf("store: load rules %s: %w", p.ID, err)
	}
	defer func() { _ = ruleRows.Close() }()
	for ruleRows.Next() {
		var r PatternRule
		if err := ruleRows.Scan(&r.Rule, &r.Severity); err != nil {
			return fmt.Errorf("store: scan rule: %w", err)
		}
		p.Rules = append(p.Rules, r)
	}
	return ruleRows.Err()
}

func scanPattern(scan func(...any) error) (*Pattern, error) {
	var p Pattern
	var created, updated string
	if err := scan(
		&p.ID, &p.Category, &p.Name, &p.Description, &p.UsageCount, &created, &updated,
	); err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// FoldName is the case-insensitive comparison key for pattern names.
func FoldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
