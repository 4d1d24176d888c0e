package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Context statuses.
const (
	ContextActive = "active"
	ContextPaused = "paused"
)

// TouchedFile is one file the context has seen, with its touch count.
type TouchedFile struct {
	Path       string `json:"path"`
	TouchCount int    `json:"touch_count"`
}

// EditRecord is one recorded edit in a context's capped history.
type EditRecord struct {
	Path     string    `json:"path"`
	Summary  string    `json:"summary"`
	Lines    []int     `json:"lines,omitempty"`
	EditedAt time.Time `json:"edited_at"`
}

// QueryRecord is one recorded query with the files its answer used and
// whether the caller found it useful. The id keys the query's embedding.
type QueryRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	FilesUsed []string  `json:"files_used,omitempty"`
	WasUseful bool      `json:"was_useful"`
	AskedAt   time.Time `json:"asked_at"`
}

// ContextRecord is a persisted working-context snapshot. The live tracker
// rebuilds the full value and upserts it on every mutation, so a reader
// never sees a half-written context.
type ContextRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Files     []TouchedFile `json:"files"`
	Edits     []EditRecord  `json:"edits"`
	Queries   []QueryRecord `json:"queries"`
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SaveContext upserts a full context snapshot.
func (s *Store) SaveContext(c ContextRecord) error {
	files, err := json.Marshal(c.Files)
	if err != nil {
		return fmt.Errorf("store: marshal context files: %w", err)
	}
	edits, err := json.Marshal(c.Edits)
	if err != nil {
		return fmt.Errorf("store: marshal context edits: %w", err)
	}
	queries, err := json.Marshal(c.Queries)
	if err != nil {
		return fmt.Errorf("store: marshal context queries: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO contexts (id, name, status, files, edits, queries, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, status = excluded.status, files = excluded.files,
			edits = excluded.edits, queries = excluded.queries, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Status, string(files), string(edits), string(queries),
		formatTime(c.StartedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save context %s: %w", c.ID, err)
	}
	return nil
}

// GetContext returns a context snapshot by id, or nil if unknown.
func (s *Store) GetContext(id string) (*ContextRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, name, status, files, edits, queries, started_at, updated_at
		 FROM contexts WHERE id = ?`, id,
	)
	c, err := scanContext(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get context %s: %w", id, err)
	}
	return c, nil
}

// ListContexts returns every stored context snapshot, most recently
// updated first.
func (s *Store) ListContexts() ([]ContextRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, name, status, files, edits, queries, started_at, updated_at
		 FROM contexts ORDER BY updated_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list contexts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ContextRecord
	for rows.Next() {
		c, err := scanContext(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan context: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContext(scan func(...any) error) (*ContextRecord, error) {
	var c ContextRecord
	var files, edits, queries, started, updated string
	if err := scan(
		&c.ID, &c.Name, &c.Status, &files, &edits, &queries, &started, &updated,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &c.Files); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(edits), &c.Edits); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(queries), &c.Queries); err != nil {
		return nil, err
	}
	c.StartedAt = parseTime(started)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}
