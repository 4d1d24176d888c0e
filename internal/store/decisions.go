package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Decision statuses.
const (
	StatusAccepted   = "accepted"
	StatusSuperseded = "superseded"
)

// Decision is a recorded architectural decision. Decisions are never
// deleted; superseding one is a status flip that preserves history.
type Decision struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Files        []string  `json:"files"`
	Tags         []string  `json:"tags"`
	Author       string    `json:"author,omitempty"`
	Status       string    `json:"status"`
	SupersededBy *string   `json:"superseded_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertDecision writes a new decision.
func (s *Store) InsertDecision(d Decision) error {
	files, err := json.Marshal(emptyIfNil(d.Files))
	if err != nil {
		return fmt.Errorf("store: marshal decision files: %w", err)
	}
	tags, err := json.Marshal(emptyIfNil(d.Tags))
	if err != nil {
		return fmt.Errorf("store: marshal decision tags: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO decisions (id, title, description, files, tags, author, status, superseded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Description, string(files), string(tags), d.Author,
		d.Status, d.SupersededBy, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert decision %s: %w", d.ID, err)
	}
	return nil
}

// GetDecision returns a decision by id, or nil if the id is unknown.
func (s *Store) GetDecision(id string) (*Decision, error) {
	row := s.db.QueryRow(
		`SELECT id, title, description, files, tags, author, status, superseded_by, created_at
		 FROM decisions WHERE id = ?`, id,
	)
	d, err := scanDecision(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get decision %s: %w", id, err)
	}
	return d, nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *Store) RecentDecisions(limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, title, description, files, tags, author, status, superseded_by, created_at
		 FROM decisions ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SupersedeDecision flips oldID to superseded, pointing at newID. Returns
// false when either id is unknown.
func (s *Store) SupersedeDecision(oldID, newID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE decisions SET status = ?, superseded_by = ?
		 WHERE id = ? AND EXISTS (SELECT 1 FROM decisions WHERE id = ?)`,
		StatusSuperseded, newID, oldID, newID,
	)
	if err != nil {
		return false, fmt.Errorf("store: supersede decision %s: %w", oldID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: supersede decision %s: %w", oldID, err)
	}
	return n > 0, nil
}

func scanDecision(scan func(...any) error) (*Decision, error) {
	var d Decision
	var files, tags, created string
	if err := scan(
		&d.ID, &d.Title, &d.Description, &files, &tags, &d.Author,
		&d.Status, &d.SupersededBy, &created,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &d.Files); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(created)
	return &d, nil
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
