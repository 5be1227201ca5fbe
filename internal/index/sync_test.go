package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/starford/ansuz/internal/apperr"
)

func TestSync_AddUpdateDelete(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	writeNote(t, e, "notes/one.md", "One body.\n")
	writeNote(t, e, "notes/two.md", "Two body.\n")

	stats, err := e.SyncFileSystemChanges(ctx, nil)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if stats.Added != 2 || stats.Updated != 0 || stats.Deleted != 0 {
		t.Fatalf("first sync = %+v, want 2 added", stats)
	}

	// Distinct mtimes for the second round.
	time.Sleep(15 * time.Millisecond)

	one := filepath.Join(e.fs.Root(), "notes/one.md")
	data, _ := os.ReadFile(one)
	if err := os.WriteFile(one, append(data, "More.\n"...), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(e.fs.Root(), "notes/two.md")); err != nil {
		t.Fatal(err)
	}
	writeNote(t, e, "notes/three.md", "Three body.\n")

	stats, err = e.SyncFileSystemChanges(ctx, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Added != 1 || stats.Updated != 1 || stats.Deleted != 1 {
		t.Fatalf("second sync = %+v, want 1/1/1", stats)
	}
	if _, err := e.GetNoteByPath(ctx, "notes/two.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted file still indexed")
	}
	if _, err := e.GetNoteByPath(ctx, "notes/three.md"); err != nil {
		t.Errorf("new file not indexed: %v", err)
	}
}

func TestSync_TouchUpdatesMtimeOnly(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	writeNote(t, e, "notes/touch.md", "Touch me.\n")

	if _, err := e.SyncFileSystemChanges(ctx, nil); err != nil {
		t.Fatalf("sync: %v", err)
	}
	before, err := e.GetNoteByPath(ctx, "notes/touch.md")
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(e.fs.Root(), "notes/touch.md"), future, future); err != nil {
		t.Fatal(err)
	}

	stats, err := e.SyncFileSystemChanges(ctx, nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Added != 0 || stats.Updated != 0 || stats.Deleted != 0 {
		t.Errorf("touch counted as a change: %+v", stats)
	}

	after, _ := e.GetNoteByPath(ctx, "notes/touch.md")
	if !after.Updated.Equal(before.Updated) {
		t.Errorf("updated moved on a bare touch")
	}
	if after.FileMtime.Equal(before.FileMtime) {
		t.Errorf("file_mtime not refreshed")
	}
}

func TestSync_ProgressBatches(t *testing.T) {
	e := testEngine(t, WithBatchSize(2))
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeNote(t, e, "notes/"+name+".md", name+" body\n")
	}

	var calls [][2]int
	_, err := e.SyncFileSystemChanges(ctx, func(processed, total int) {
		calls = append(calls, [2]int{processed, total})
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := [][2]int{{2, 5}, {4, 5}, {5, 5}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestRebuild_Reconstructs(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	writeNote(t, e, "notes/r1.md", "First.\n")
	writeNote(t, e, "notes/r2.md", "Second.\n")
	writeNote(t, e, "projects/r3.md", "Third.\n")

	if _, err := e.SyncFileSystemChanges(ctx, nil); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	orig, err := e.GetNoteByPath(ctx, "notes/r1.md")
	if err != nil {
		t.Fatal(err)
	}

	// A row with no file behind it must not survive a rebuild.
	seedNote(t, e, UpsertParams{ID: "n-99999999", Type: "ghosts", Filename: "g.md", Path: "ghosts/g.md"})

	var last [2]int
	if err := e.RebuildIndex(ctx, func(processed, total int) {
		last = [2]int{processed, total}
	}); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if last != [2]int{3, 3} {
		t.Errorf("final progress = %v, want [3 3]", last)
	}

	st, err := e.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Notes != 3 {
		t.Errorf("notes after rebuild = %d, want 3", st.Notes)
	}
	if _, err := e.GetNoteByID(ctx, "n-99999999"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ghost row survived rebuild")
	}

	// Ids live in the files, so a rebuild keeps them.
	rebuilt, err := e.GetNoteByID(ctx, orig.ID)
	if err != nil {
		t.Fatalf("id lost in rebuild: %v", err)
	}
	if rebuilt.Path != orig.Path {
		t.Errorf("path = %q, want %q", rebuilt.Path, orig.Path)
	}
}

func TestRebuild_LockHeldRejected(t *testing.T) {
	e := testEngine(t)
	lock := flock.New(filepath.Join(e.indexDir, "index.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("could not take test lock: %v", err)
	}
	defer lock.Unlock() //nolint:errcheck

	err = e.RebuildIndex(context.Background(), nil)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}
