// Package store implements the persistent tier of the memory engine.
//
// It uses SQLite to hold indexed files, embeddings, architectural
// decisions, learned patterns, working-context snapshots, and the cached
// repository HEAD. The store is the single source of truth: the recency
// cache in front of it is an optimization, never the only copy of a
// record.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir          string
	MaxPreviewLength int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".memcore"),
		MaxPreviewLength: 2000,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent memory store backed by SQLite.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New creates a Store with the given configuration. It creates the data
// directory if needed, opens SQLite with WAL mode, and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxPreviewLength <= 0 {
		cfg.MaxPreviewLength = DefaultConfig().MaxPreviewLength
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "memory.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			path         TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			language     TEXT NOT NULL DEFAULT '',
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			line_count   INTEGER NOT NULL DEFAULT 0,
			preview      TEXT NOT NULL DEFAULT '',
			modified_at  TEXT NOT NULL,
			indexed_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS embeddings (
			owner_kind TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			dim        INTEGER NOT NULL,
			vector     BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (owner_kind, owner_id)
		);

		CREATE TABLE IF NOT EXISTS decisions (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL,
			files         TEXT NOT NULL DEFAULT '[]',
			tags          TEXT NOT NULL DEFAULT '[]',
			author        TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'accepted',
			superseded_by TEXT REFERENCES decisions(id),
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_decisions_status  ON decisions(status);

		CREATE TABLE IF NOT EXISTS patterns (
			id          TEXT PRIMARY KEY,
			category    TEXT NOT NULL,
			name        TEXT NOT NULL,
			name_folded TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category);
		CREATE INDEX IF NOT EXISTS idx_patterns_usage    ON patterns(usage_count DESC);

		CREATE TABLE IF NOT EXISTS pattern_examples (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_id      TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
			code            TEXT NOT NULL,
			explanation     TEXT NOT NULL DEFAULT '',
			source_file     TEXT NOT NULL DEFAULT '',
			anti_pattern    INTEGER NOT NULL DEFAULT 0,
			normalized_hash TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_examples_pattern ON pattern_examples(pattern_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_examples_dedupe
			ON pattern_examples(pattern_id, normalized_hash);

		CREATE TABLE IF NOT EXISTS pattern_rules (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
			rule       TEXT NOT NULL,
			severity   TEXT NOT NULL DEFAULT 'info',
			position   INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_rules_pattern ON pattern_rules(pattern_id);

		CREATE TABLE IF NOT EXISTS contexts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			files      TEXT NOT NULL DEFAULT '[]',
			edits      TEXT NOT NULL DEFAULT '[]',
			queries    TEXT NOT NULL DEFAULT '[]',
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contexts_updated ON contexts(updated_at DESC);

		CREATE TABLE IF NOT EXISTS critical_context (
			id             TEXT PRIMARY KEY,
			kind           TEXT NOT NULL,
			content        TEXT NOT NULL,
			reason         TEXT NOT NULL DEFAULT '',
			never_compress INTEGER NOT NULL DEFAULT 1,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS repo_state (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			head_commit TEXT NOT NULL,
			checked_at  TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ─── Repo state ──────────────────────────────────────────────────────────────

// RepoState is the single-row cached HEAD record.
type RepoState struct {
	HeadCommit string
	CheckedAt  time.Time
}

// SetRepoState upserts the cached HEAD commit.
func (s *Store) SetRepoState(head string) error {
	_, err := s.db.Exec(
		`INSERT INTO repo_state (id, head_commit, checked_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET head_commit = excluded.head_commit, checked_at = excluded.checked_at`,
		head, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: set repo state: %w", err)
	}
	return nil
}

// GetRepoState returns the cached HEAD record, or nil if none was stored.
func (s *Store) GetRepoState() (*RepoState, error) {
	row := s.db.QueryRow(`SELECT head_commit, checked_at FROM repo_state WHERE id = 1`)
	var head, checked string
	if err := row.Scan(&head, &checked); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get repo state: %w", err)
	}
	return &RepoState{HeadCommit: head, CheckedAt: parseTime(checked)}, nil
}

// ─── Critical context ────────────────────────────────────────────────────────

// CriticalEntry is a piece of context excluded from any future compaction.
type CriticalEntry struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Content       string `json:"content"`
	Reason        string `json:"reason"`
	NeverCompress bool   `json:"never_compress"`
	CreatedAt     time.Time
}

// InsertCritical records a new critical-context entry.
func (s *Store) InsertCritical(e CriticalEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO critical_context (id, kind, content, reason, never_compress, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Content, e.Reason, boolToInt(e.NeverCompress), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert critical entry: %w", err)
	}
	return nil
}

// ListCritical returns all critical-context entries, newest first.
func (s *Store) ListCritical() ([]CriticalEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, content, reason, never_compress, created_at
		 FROM critical_context ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list critical entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CriticalEntry
	for rows.Next() {
		var e CriticalEntry
		var nc int
		var created string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Content, &e.Reason, &nc, &created); err != nil {
			return nil, fmt.Errorf("store: scan critical entry: %w", err)
		}
		e.NeverCompress = nc != 0
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Embeddings ──────────────────────────────────────────────────────────────

// Embedding owner kinds.
const (
	OwnerFile     = "file"
	OwnerDecision = "decision"
	OwnerQuery    = "query"
)

// Embedding is the current vector for one owner. Exactly one row exists
// per owner; re-embedding replaces it.
type Embedding struct {
	OwnerKind string
	OwnerID   string
	Vector    []float32
	CreatedAt time.Time
}

// UpsertEmbedding stores the current vector for an owner, replacing any
// previous one.
func (s *Store) UpsertEmbedding(kind, id string, vec []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO embeddings (owner_kind, owner_id, dim, vector, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(owner_kind, owner_id) DO UPDATE SET
			dim = excluded.dim, vector = excluded.vector, created_at = excluded.created_at`,
		kind, id, len(vec), encodeVector(vec), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: upsert embedding %s/%s: %w", kind, id, err)
	}
	return nil
}

// GetEmbedding returns the owner's current vector, or nil if none exists.
func (s *Store) GetEmbedding(kind, id string) (*Embedding, error) {
	row := s.db.QueryRow(
		`SELECT vector, created_at FROM embeddings WHERE owner_kind = ? AND owner_id = ?`,
		kind, id,
	)
	var blob []byte
	var created string
	if err := row.Scan(&blob, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get embedding %s/%s: %w", kind, id, err)
	}
	return &Embedding{
		OwnerKind: kind,
		OwnerID:   id,
		Vector:    decodeVector(blob),
		CreatedAt: parseTime(created),
	}, nil
}

// ListEmbeddings returns every stored vector of one owner kind. For
// decision embeddings created_at tracks the decision's creation, since
// decisions are immutable after insert.
func (s *Store) ListEmbeddings(kind string) ([]Embedding, error) {
	rows, err := s.db.Query(
		`SELECT owner_id, vector, created_at FROM embeddings WHERE owner_kind = ?`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list embeddings %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		var created string
		if err := rows.Scan(&e.OwnerID, &blob, &created); err != nil {
			return nil, fmt.Errorf("store: scan embedding: %w", err)
		}
		e.OwnerKind = kind
		e.Vector = decodeVector(blob)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEmbedding removes the owner's vector if present.
func (s *Store) DeleteEmbedding(kind, id string) error {
	if _, err := s.db.Exec(
		`DELETE FROM embeddings WHERE owner_kind = ? AND owner_id = ?`, kind, id,
	); err != nil {
		return fmt.Errorf("store: delete embedding %s/%s: %w", kind, id, err)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

const timeLayout = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// HashContent returns the hex sha256 of raw content, used to detect file
// changes without re-reading old content.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// NormalizeCode collapses whitespace, unifies quote characters, and
// case-folds a code blob. Identifier names are deliberately left alone:
// near-duplicates differing only by variable names are distinct examples.
func NormalizeCode(code string) string {
	v := strings.ToLower(strings.Join(strings.Fields(code), " "))
	v = strings.ReplaceAll(v, "'", `"`)
	v = strings.ReplaceAll(v, "`", `"`)
	return v
}

// HashNormalizedCode is the dedup key for pattern examples.
func HashNormalizedCode(code string) string {
	h := sha256.Sum256([]byte(NormalizeCode(code)))
	return hex.EncodeToString(h[:])
}

// IsUniqueViolation checks if an error is a SQLite UNIQUE constraint
// violation, the backstop for case-insensitive pattern-name collisions.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
