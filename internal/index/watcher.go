package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/vault"
)

// Watcher event kinds.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventSynced  = "synced"
)

// Event describes one watcher-driven index mutation. ID is empty for kinds
// that do not address a single note.
type Event struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
}

// EventCallback is called after each watcher-driven index change.
type EventCallback func(Event)

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after each
// successful index mutation.
//
// Writes made through the engine's own tracked writer are claimed from the
// tracker and skipped, so normalization rewrites do not loop back through
// the watcher. New directories created at runtime are added to the watch
// list; hidden directories (the index dir included) are never watched.
// Rename events trigger a debounced incremental sync to catch the half of
// the rename fsnotify cannot attribute.
func (e *Engine) Watch(ctx context.Context, tracker *vault.Tracker, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := e.fs.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	e.logger.Info("watcher: started", slog.String("root", root))

	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			e.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := e.SyncFileSystemChanges(ctx, nil); err != nil {
				e.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				continue
			}
			if cb != nil {
				cb(Event{Kind: EventSynced})
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: start watching and index their contents.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if strings.HasPrefix(filepath.Base(absPath), ".") {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						e.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						e.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					e.indexNewDir(ctx, absPath, cb)
					continue
				}
			}

			// Only process .md files from here on.
			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			if filepath.Dir(rel) == "." {
				// Root-level files are not notes.
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if tracker != nil && tracker.Claim(rel) {
					e.logger.Debug("watcher: own write, skipping", slog.String("path", rel))
					continue
				}
				note, idxErr := e.IndexFile(ctx, rel)
				if idxErr != nil {
					e.logger.Warn("watcher: index failed",
						slog.String("path", rel),
						slog.String("error", idxErr.Error()))
					continue
				}
				kind := EventUpdated
				if ev.Op&fsnotify.Create != 0 {
					kind = EventCreated
				}
				e.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(Event{Kind: kind, ID: note.ID, Path: rel})
				}

			case ev.Op&fsnotify.Remove != 0:
				e.removeWatched(ctx, rel, cb)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new path
				// arrives as a separate Create event when it stays inside a
				// watched dir. Delete the old entry now and schedule a short
				// reconciliation pass to catch stragglers.
				e.removeWatched(ctx, rel, cb)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// removeWatched drops the index row for a path that disappeared from disk.
func (e *Engine) removeWatched(ctx context.Context, rel string, cb EventCallback) {
	note, err := e.GetNoteByPath(ctx, rel)
	if err != nil {
		// Never indexed, nothing to remove.
		return
	}
	if delErr := e.RemoveNote(ctx, note.ID); delErr != nil {
		e.logger.Warn("watcher: delete failed",
			slog.String("path", rel),
			slog.String("error", delErr.Error()))
		return
	}
	e.logger.Debug("watcher: deleted", slog.String("path", rel))
	if cb != nil {
		cb(Event{Kind: EventDeleted, ID: note.ID, Path: rel})
	}
}

// indexNewDir indexes any .md files found in a newly created directory.
func (e *Engine) indexNewDir(ctx context.Context, dirPath string, cb EventCallback) {
	root := e.fs.Root()
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		note, idxErr := e.IndexFile(ctx, rel)
		if idxErr != nil {
			return nil
		}
		e.logger.Debug("watcher: indexed from new dir", slog.String("path", rel))
		if cb != nil {
			cb(Event{Kind: EventCreated, ID: note.ID, Path: rel})
		}
		return nil
	})
}

// addDirsRecursive adds root and all its visible subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
