// Package indexer ingests source files into the store: content hash,
// metadata, a bounded preview, and a semantic embedding of that preview.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codeatlas-ai/memcore/internal/embed"
	"github.com/codeatlas-ai/memcore/internal/store"
)

// readFile is swapped in tests.
var readFile = os.ReadFile

// Config holds indexer configuration.
type Config struct {
	// PreviewLength caps the stored preview, in runes.
	PreviewLength int
}

// DefaultConfig returns the default indexer configuration.
func DefaultConfig() Config {
	return Config{PreviewLength: 2000}
}

// Indexer reads files from disk and writes their records and embeddings.
// Concurrent requests for the same path are coalesced into one read.
type Indexer struct {
	st       *store.Store
	embedder embed.Embedder
	cfg      Config
	logger   *zap.Logger
	group    singleflight.Group
}

// New creates an Indexer.
func New(st *store.Store, embedder embed.Embedder, cfg Config, logger *zap.Logger) *Indexer {
	if cfg.PreviewLength <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		st:       st,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// IndexFile reads a file and upserts its record. When the content hash is
// unchanged the existing record is returned untouched, so re-indexing is
// idempotent. An embedding failure indexes the file without similarity
// search support.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (*store.FileRecord, error) {
	v, err, _ := ix.group.Do(path, func() (any, error) {
		return ix.indexOne(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.FileRecord), nil
}

// IndexContent indexes content supplied by the caller instead of read
// from disk, with the same hash gate and path coalescing.
func (ix *Indexer) IndexContent(ctx context.Context, path string, content []byte) (*store.FileRecord, error) {
	v, err, _ := ix.group.Do(path, func() (any, error) {
		return ix.write(ctx, path, content, time.Now())
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.FileRecord), nil
}

// RemoveFile deletes a file's record and its embedding.
func (ix *Indexer) RemoveFile(path string) error {
	return ix.st.DeleteFile(path)
}

func (ix *Indexer) indexOne(ctx context.Context, path string) (*store.FileRecord, error) {
	content, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("indexer: read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("indexer: stat %s: %w", path, err)
	}
	return ix.write(ctx, path, content, info.ModTime())
}

func (ix *Indexer) write(ctx context.Context, path string, content []byte, modifiedAt time.Time) (*store.FileRecord, error) {
	hash := store.HashContent(string(content))

	prev, err := ix.st.GetFile(path)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.ContentHash == hash {
		return prev, nil
	}

	rec := store.FileRecord{
		Path:        path,
		ContentHash: hash,
		Language:    languageOf(path),
		SizeBytes:   int64(len(content)),
		LineCount:   countLines(content),
		Preview:     preview(string(content), ix.cfg.PreviewLength),
		ModifiedAt:  modifiedAt,
		IndexedAt:   time.Now(),
	}
	if err := ix.st.UpsertFile(rec); err != nil {
		return nil, err
	}

	if vec, err := ix.embedder.Embed(ctx, rec.Preview); err != nil {
		ix.logger.Warn("embedding failed, file indexed without similarity",
			zap.String("path", path), zap.Error(err))
	} else if err := ix.st.UpsertEmbedding(store.OwnerFile, path, vec); err != nil {
		return nil, err
	}

	ix.logger.Debug("file indexed",
		zap.String("path", path), zap.String("language", rec.Language))
	return &rec, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

var extLanguages = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".py":    "python",
	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".swift": "swift",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".sql":   "sql",
	".sh":    "shell",
	".css":   "css",
	".html":  "html",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".md":    "markdown",
}

func languageOf(path string) string {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}

func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
