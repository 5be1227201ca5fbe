package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/checksum"
)

// SyncStats summarizes one reconciliation run.
type SyncStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// indexedFile is the slice of a notes row sync compares against the disk.
type indexedFile struct {
	id    string
	mtime int64
	hash  string
}

// SyncFileSystemChanges reconciles the index with the vault incrementally.
//
// Phase one walks the scan: unknown paths are indexed, known paths are
// skipped outright when the mtime matches, and re-hashed when it does not. A
// matching hash under a new mtime (a bare touch) updates file_mtime only;
// anything else reindexes the file. Phase two removes rows whose files are
// gone. Like rebuild, file work runs in batches with per-item best effort.
func (e *Engine) SyncFileSystemChanges(ctx context.Context, progress Progress) (*SyncStats, error) {
	start := time.Now()
	files, err := e.fs.Scan()
	if err != nil {
		return nil, err
	}
	byPath, err := e.indexedByPath(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.RelPath] = true
	}

	var added, updated, deleted atomic.Int64
	total := len(files)
	for batch := 0; batch < total; batch += e.batchSize {
		end := batch + e.batchSize
		if end > total {
			end = total
		}
		g := new(errgroup.Group)
		for _, f := range files[batch:end] {
			f := f
			g.Go(func() error {
				prev, known := byPath[f.RelPath]
				if known && prev.mtime == toMillis(f.Mtime) {
					return nil
				}
				if known {
					raw, err := e.fs.Read(f.RelPath)
					if err == nil && checksum.Sum(raw) == prev.hash {
						// Touched but unchanged; remember the new mtime so the
						// next sync takes the fast path.
						if err := e.touchFileMtime(ctx, prev.id, f.Mtime); err != nil {
							e.logger.Warn("index: sync: mtime update failed",
								slog.String("path", f.RelPath),
								slog.String("error", err.Error()))
						}
						return nil
					}
				}
				if _, err := e.IndexFile(ctx, f.RelPath); err != nil {
					e.logger.Warn("index: sync: file skipped",
						slog.String("path", f.RelPath),
						slog.String("error", err.Error()))
					return nil
				}
				e.logger.Debug("index: sync: indexed", slog.String("path", f.RelPath))
				if known {
					updated.Add(1)
				} else {
					added.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait() // items report their own failures
		if progress != nil {
			progress(end, total)
		}
	}

	for path, prev := range byPath {
		if seen[path] {
			continue
		}
		if err := e.RemoveNote(ctx, prev.id); err != nil {
			e.logger.Warn("index: sync: remove failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		e.logger.Debug("index: sync: removed stale", slog.String("path", path))
		deleted.Add(1)
	}

	stats := &SyncStats{
		Added:   int(added.Load()),
		Updated: int(updated.Load()),
		Deleted: int(deleted.Load()),
	}
	e.logger.Info("index: sync complete",
		slog.Int("added", stats.Added),
		slog.Int("updated", stats.Updated),
		slog.Int("deleted", stats.Deleted),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

// indexedByPath loads the comparison columns for every indexed note.
func (e *Engine) indexedByPath(ctx context.Context) (map[string]indexedFile, error) {
	conn, err := e.conns.Writer()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `SELECT id, path, file_mtime, content_hash FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: load sync state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]indexedFile)
	for rows.Next() {
		var f indexedFile
		var path string
		if err := rows.Scan(&f.id, &path, &f.mtime, &f.hash); err != nil {
			return nil, err
		}
		out[path] = f
	}
	return out, rows.Err()
}

// touchFileMtime records a new mtime for an otherwise unchanged file.
func (e *Engine) touchFileMtime(ctx context.Context, id string, mtime time.Time) error {
	conn, err := e.conns.Writer()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		`UPDATE notes SET file_mtime = ? WHERE id = ?`, toMillis(mtime), id); err != nil {
		return fmt.Errorf("index: touch mtime: %w", err)
	}
	return nil
}
