// Package index implements the SQLite-backed hybrid search index over a
// Markdown note vault. Files are authoritative: every table here is derived
// from vault content and can be rebuilt from scratch at any time.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/vault"
)

// Defaults for engine tuning knobs.
const (
	DefaultIndexDirName = ".ansuz"
	DefaultBatchSize    = 10
)

// Title policies applied when a note has no title of its own.
const (
	TitlePolicyDerive   = "derive"
	TitlePolicyPreserve = "preserve"
)

// Engine owns one vault's index: the SQLite file under the vault-local index
// directory, the connection pair, and the normalization pipeline that keeps
// files and rows in step.
type Engine struct {
	fs          *vault.FS
	writer      vault.Writer // nil falls back to direct writes
	conns       *ConnManager
	logger      *slog.Logger
	indexDir    string
	titlePolicy string
	batchSize   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWriter routes normalization rewrites through w, typically a
// vault.TrackedFS so the watcher can ignore them.
func WithWriter(w vault.Writer) Option {
	return func(e *Engine) { e.writer = w }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTitlePolicy selects how empty titles are handled during normalization.
func WithTitlePolicy(p string) Option {
	return func(e *Engine) {
		if p != "" {
			e.titlePolicy = p
		}
	}
}

// WithBatchSize sets how many files rebuild and sync process per batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithIndexDirName overrides the vault-local index directory name.
func WithIndexDirName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.indexDir = filepath.Join(e.fs.Root(), name)
		}
	}
}

// Open creates the index directory under the vault root and returns an
// Engine. Connections open lazily on first use, so a missing or unwritable
// database surfaces as ErrStorageUnavailable from the first operation that
// needs it rather than from Open.
func Open(fs *vault.FS, opts ...Option) (*Engine, error) {
	e := &Engine{
		fs:          fs,
		logger:      slog.Default(),
		indexDir:    filepath.Join(fs.Root(), DefaultIndexDirName),
		titlePolicy: TitlePolicyDerive,
		batchSize:   DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := os.MkdirAll(e.indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create index dir: %w", err)
	}
	e.conns = newConnManager(filepath.Join(e.indexDir, "index.db"))
	return e, nil
}

// IndexPath returns the absolute path of the SQLite database file.
func (e *Engine) IndexPath() string {
	return filepath.Join(e.indexDir, "index.db")
}

// Refresh drops both database handles so subsequent operations reopen
// against the current file. RebuildIndex calls it after wiping; it is also
// the recovery path when the database file is replaced externally.
func (e *Engine) Refresh() error {
	return e.conns.Refresh()
}

// Close releases the database handles.
func (e *Engine) Close() error {
	return e.conns.Close()
}

// writeVault persists normalized note bytes, through the tracked writer when
// one is configured. Without one the watcher will see the rewrite as an
// external edit, so the fallback is logged.
func (e *Engine) writeVault(rel string, data []byte) error {
	if e.writer != nil {
		return e.writer.Write(rel, data)
	}
	e.logger.Warn("index: no tracked writer, normalization write will look external",
		slog.String("path", rel))
	return e.fs.Write(rel, data)
}

// absPath converts a stored vault-relative path to an absolute one.
func (e *Engine) absPath(rel string) string {
	return filepath.Join(e.fs.Root(), rel)
}

// materialize rewrites the record's stored relative path as an absolute
// path for callers.
func (e *Engine) materialize(rec *models.NoteRecord) {
	rec.Path = e.absPath(rec.Path)
}

// Stats summarizes index contents.
type Stats struct {
	Notes           int            `json:"notes"`
	MetadataEntries int            `json:"metadata_entries"`
	Links           int            `json:"links"`
	NotesByType     map[string]int `json:"notes_by_type"`
	SizeBytes       int64          `json:"size_bytes"`
}

// Stats reports note, metadata, and link counts plus the index file size.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	conn, err := e.conns.Reader()
	if err != nil {
		return nil, err
	}
	st := &Stats{NotesByType: make(map[string]int)}
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM notes`).Scan(&st.Notes); err != nil {
		return nil, fmt.Errorf("index: count notes: %w", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM note_metadata`).Scan(&st.MetadataEntries); err != nil {
		return nil, fmt.Errorf("index: count metadata: %w", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM note_links`).Scan(&st.Links); err != nil {
		return nil, fmt.Errorf("index: count links: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT type, count(*) FROM notes GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("index: count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		st.NotesByType[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if info, err := os.Stat(e.IndexPath()); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}
