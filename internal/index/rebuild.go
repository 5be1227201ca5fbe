package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/apperr"
)

// Progress reports batch completion as (processed, total) files.
type Progress func(processed, total int)

// RebuildIndex wipes every derived table and reindexes the whole vault from
// scratch. Files are processed in batches; one file failing is logged and
// skipped, never fatal. A vault-local file lock rejects concurrent rebuilds,
// including from another process. Both connections are dropped afterward so
// readers cannot hold a pre-rebuild snapshot.
func (e *Engine) RebuildIndex(ctx context.Context, progress Progress) error {
	lock := flock.New(filepath.Join(e.indexDir, "index.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("index: acquire rebuild lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("index: rebuild already in progress: %w", apperr.ErrConflict)
	}
	defer lock.Unlock() //nolint:errcheck

	start := time.Now()
	if err := e.wipe(ctx); err != nil {
		return err
	}

	files, err := e.fs.Scan()
	if err != nil {
		return err
	}
	total := len(files)
	e.logger.Info("index: rebuild started", slog.Int("files", total))

	var failed atomic.Int64
	for batch := 0; batch < total; batch += e.batchSize {
		end := batch + e.batchSize
		if end > total {
			end = total
		}
		g := new(errgroup.Group)
		for _, f := range files[batch:end] {
			f := f
			g.Go(func() error {
				if _, err := e.IndexFile(ctx, f.RelPath); err != nil {
					failed.Add(1)
					e.logger.Warn("index: rebuild: file skipped",
						slog.String("path", f.RelPath),
						slog.String("error", err.Error()))
				}
				return nil
			})
		}
		_ = g.Wait() // items report their own failures
		if progress != nil {
			progress(end, total)
		}
	}

	if err := e.Refresh(); err != nil {
		return err
	}
	e.logger.Info("index: rebuild complete",
		slog.Int("files", total),
		slog.Int64("failed", failed.Load()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// wipe deletes every row from every derived table in one transaction.
func (e *Engine) wipe(ctx context.Context) error {
	conn, err := e.conns.Writer()
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin wipe: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM note_links`,
		`DELETE FROM note_hierarchy`,
		`DELETE FROM note_metadata`,
		`DELETE FROM notes`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("index: wipe: %w", err)
		}
	}
	if err := ftsWipe(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit wipe: %w", err)
	}
	return nil
}
