package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FileRecord is one indexed source file. The content hash changes iff the
// file's embedding is regenerated.
type FileRecord struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	Language    string    `json:"language"`
	SizeBytes   int64     `json:"size_bytes"`
	LineCount   int       `json:"line_count"`
	Preview     string    `json:"preview"`
	ModifiedAt  time.Time `json:"modified_at"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// UpsertFile creates or replaces the record for a path.
func (s *Store) UpsertFile(f FileRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO files (path, content_hash, language, size_bytes, line_count, preview, modified_at, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			language     = excluded.language,
			size_bytes   = excluded.size_bytes,
			line_count   = excluded.line_count,
			preview      = excluded.preview,
			modified_at  = excluded.modified_at,
			indexed_at   = excluded.indexed_at`,
		f.Path, f.ContentHash, f.Language, f.SizeBytes, f.LineCount, f.Preview,
		formatTime(f.ModifiedAt), formatTime(f.IndexedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert file %s: %w", f.Path, err)
	}
	return nil
}

// GetFile returns the record for a path, or nil if the path is unknown.
func (s *Store) GetFile(path string) (*FileRecord, error) {
	row := s.db.QueryRow(
		`SELECT path, content_hash, language, size_bytes, line_count, preview, modified_at, indexed_at
		 FROM files WHERE path = ?`, path,
	)
	f, err := scanFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get file %s: %w", path, err)
	}
	return f, nil
}

// ListFiles returns all indexed files ordered by path. Pattern learning
// iterates these previews.
func (s *Store) ListFiles() ([]FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT path, content_hash, language, size_bytes, line_count, preview, modified_at, indexed_at
		 FROM files ORDER BY path`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileRecord
	for rows.Next() {
		f, err := scanFile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// DeleteFile removes a file record and its embedding.
func (s *Store) DeleteFile(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	if _, err := tx.Exec(
		`DELETE FROM embeddings WHERE owner_kind = ? AND owner_id = ?`, OwnerFile, path,
	); err != nil {
		return fmt.Errorf("store: delete file embedding %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	return nil
}

func scanFile(scan func(...any) error) (*FileRecord, error) {
	var f FileRecord
	var modified, indexed string
	if err := scan(
		&f.Path, &f.ContentHash, &f.Language, &f.SizeBytes, &f.LineCount,
		&f.Preview, &modified, &indexed,
	); err != nil {
		return nil, err
	}
	f.ModifiedAt = parseTime(modified)
	f.IndexedAt = parseTime(indexed)
	return &f, nil
}
