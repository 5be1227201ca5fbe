package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/vault"
)

// eventLog collects watcher callback events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) has(kind, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind && ev.Path == path {
			return true
		}
	}
	return false
}

// startWatcher runs e.Watch in the background and gives it a moment to
// settle before the test starts generating events.
func startWatcher(t *testing.T, e *Engine, tracker *vault.Tracker) *eventLog {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := &eventLog{}
	go e.Watch(ctx, tracker, log.record)
	time.Sleep(100 * time.Millisecond)
	return log
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	e := testEngine(t)
	if err := os.MkdirAll(filepath.Join(e.fs.Root(), "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	log := startWatcher(t, e, nil)

	_ = os.WriteFile(filepath.Join(e.fs.Root(), "notes", "new.md"), []byte("fresh thoughts\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := e.GetNoteByPath(context.Background(), "notes/new.md")
		return err == nil
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has(EventCreated, "notes/new.md")
	}, "expected created event for notes/new.md")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	e := testEngine(t)
	startWatcher(t, e, nil)

	// Dir and file land back to back; the watcher either catches the file
	// event under the freshly watched dir or sweeps it up in the dir walk.
	writeNote(t, e, "projects/deep.md", "buried project notes\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := e.GetNoteByPath(context.Background(), "projects/deep.md")
		return err == nil
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	e := testEngine(t)
	writeNote(t, e, "notes/del.md", "delete me\n")
	if _, err := e.SyncFileSystemChanges(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	note, err := e.GetNoteByPath(context.Background(), "notes/del.md")
	if err != nil {
		t.Fatal("precondition: file should be indexed")
	}

	log := startWatcher(t, e, nil)
	_ = os.Remove(filepath.Join(e.fs.Root(), "notes", "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := e.GetNoteByPath(context.Background(), "notes/del.md")
		return errors.Is(err, apperr.ErrNotFound)
	}, "deleted file still in index")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return log.has(EventDeleted, "notes/del.md")
	}, "expected deleted event for "+note.ID)
}

func TestWatcher_RenameReconciles(t *testing.T) {
	e := testEngine(t)
	writeNote(t, e, "notes/old.md", "soon to move\n")
	if _, err := e.SyncFileSystemChanges(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	before, err := e.GetNoteByPath(context.Background(), "notes/old.md")
	if err != nil {
		t.Fatal(err)
	}

	startWatcher(t, e, nil)
	_ = os.Rename(
		filepath.Join(e.fs.Root(), "notes", "old.md"),
		filepath.Join(e.fs.Root(), "notes", "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		if _, err := e.GetNoteByPath(context.Background(), "notes/old.md"); !errors.Is(err, apperr.ErrNotFound) {
			return false
		}
		after, err := e.GetNoteByPath(context.Background(), "notes/renamed.md")
		return err == nil && after.ID == before.ID
	}, "rename reconciliation failed: id should survive the move to the new path")
}

func TestWatcher_OwnRewriteDoesNotLoop(t *testing.T) {
	fs, err := vault.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tracker := vault.NewTracker(0)
	e, err := Open(fs,
		WithLogger(testLogger()),
		WithWriter(vault.NewTrackedFS(fs, tracker)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })

	if err := os.MkdirAll(filepath.Join(fs.Root(), "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	startWatcher(t, e, tracker)

	// A bare file forces a normalization rewrite (id and title get added),
	// which flows back through the watcher as our own write.
	_ = os.WriteFile(filepath.Join(fs.Root(), "notes", "raw.md"), []byte("unpolished\n"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		data, readErr := fs.Read("notes/raw.md")
		return readErr == nil && strings.Contains(string(data), "ansuz-id:")
	}, "normalization rewrite never landed")

	note, err := e.GetNoteByPath(context.Background(), "notes/raw.md")
	if err != nil {
		t.Fatal(err)
	}

	// Give any echo a chance to fire, then check the note settled.
	time.Sleep(400 * time.Millisecond)
	again, err := e.GetNoteByPath(context.Background(), "notes/raw.md")
	if err != nil {
		t.Fatal(err)
	}
	if !again.Updated.Equal(note.Updated) || again.ID != note.ID {
		t.Fatalf("note kept churning: %v -> %v", note.Updated, again.Updated)
	}
}

func TestWatcher_IgnoresNonNotes(t *testing.T) {
	e := testEngine(t)
	if err := os.MkdirAll(filepath.Join(e.fs.Root(), "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	startWatcher(t, e, nil)

	// Root-level markdown and non-markdown files are both outside the vault
	// layout.
	_ = os.WriteFile(filepath.Join(e.fs.Root(), "readme.md"), []byte("about this vault\n"), 0o644)
	_ = os.WriteFile(filepath.Join(e.fs.Root(), "notes", "scratch.txt"), []byte("not a note\n"), 0o644)

	time.Sleep(400 * time.Millisecond)

	if _, err := e.GetNoteByPath(context.Background(), "readme.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("root-level file was indexed: %v", err)
	}
	if _, err := e.GetNoteByPath(context.Background(), "notes/scratch.txt"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("non-markdown file was indexed: %v", err)
	}
}
