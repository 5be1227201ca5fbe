package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/vault"
)

// testLogger keeps test output quiet below error level.
func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEngine builds an engine over a fresh temp vault.
func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	fs, err := vault.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e, err := Open(fs, append([]Option{WithLogger(testLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// writeNote drops a raw note file into the engine's vault.
func writeNote(t *testing.T, e *Engine, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.fs.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// seedNote upserts a row directly, without a file behind it.
func seedNote(t *testing.T, e *Engine, p UpsertParams) {
	t.Helper()
	if p.Kind == "" {
		p.Kind = models.KindMarkdown
	}
	if p.ContentHash == "" {
		p.ContentHash = "hash-" + p.ID
	}
	if err := e.UpsertNote(context.Background(), p); err != nil {
		t.Fatalf("UpsertNote(%s): %v", p.ID, err)
	}
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestSchemaCreation(t *testing.T) {
	e := testEngine(t)
	conn, err := e.conns.Writer()
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	var count int
	for _, table := range []string{"notes", "note_metadata", "note_hierarchy", "note_links"} {
		if err := conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestOpenCreatesIndexDir(t *testing.T) {
	e := testEngine(t)
	info, err := os.Stat(e.indexDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("index dir not created: %v", err)
	}
	if filepath.Base(e.indexDir) != DefaultIndexDirName {
		t.Errorf("index dir = %q", e.indexDir)
	}
}

func TestUpsertAndGet(t *testing.T) {
	e := testEngine(t)
	seedNote(t, e, UpsertParams{
		ID:       "n-11111111",
		Title:    "Hello World",
		Content:  "This is a hello world note.",
		Type:     "notes",
		Filename: "hello.md",
		Path:     "notes/hello.md",
		Size:     42,
		Metadata: []models.MetadataEntry{
			{Key: "status", Value: "active", ValueType: models.ValueString},
			{Key: "priority", Value: "3", ValueType: models.ValueNumber},
		},
	})

	note, err := e.GetNoteByID(context.Background(), "n-11111111")
	if err != nil {
		t.Fatalf("GetNoteByID: %v", err)
	}
	if note.Title != "Hello World" || note.Type != "notes" {
		t.Errorf("note = %+v", note.NoteRecord)
	}
	if note.Path != filepath.Join(e.fs.Root(), "notes/hello.md") {
		t.Errorf("path not materialized absolute: %q", note.Path)
	}
	if v := note.Metadata["priority"]; v.Type != models.ValueNumber || v.Num != 3 {
		t.Errorf("priority = %+v", v)
	}
	if v := note.Metadata["status"]; v.Str != "active" {
		t.Errorf("status = %+v", v)
	}

	byPath, err := e.GetNoteByPath(context.Background(), "notes/hello.md")
	if err != nil {
		t.Fatalf("GetNoteByPath: %v", err)
	}
	if byPath.ID != note.ID {
		t.Errorf("byPath.ID = %q, want %q", byPath.ID, note.ID)
	}
}

func TestGetNoteByID_NotFound(t *testing.T) {
	e := testEngine(t)
	_, err := e.GetNoteByID(context.Background(), "n-deadbeef")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertTimestamps(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	p := UpsertParams{
		ID: "n-22222222", Title: "One", Content: "first",
		Type: "notes", Filename: "ts.md", Path: "notes/ts.md",
		ContentHash: "h1",
	}
	seedNote(t, e, p)
	first, _ := e.GetNoteByID(ctx, p.ID)

	time.Sleep(5 * time.Millisecond)

	// Same hash: title changes but updated must not move.
	p.Title = "Renamed"
	seedNote(t, e, p)
	second, _ := e.GetNoteByID(ctx, p.ID)
	if !second.Updated.Equal(first.Updated) {
		t.Errorf("updated moved without a content change: %v -> %v", first.Updated, second.Updated)
	}
	if !second.Created.Equal(first.Created) {
		t.Errorf("created changed on upsert: %v -> %v", first.Created, second.Created)
	}

	time.Sleep(5 * time.Millisecond)

	// New hash: updated advances, created stays.
	p.Content = "second"
	p.ContentHash = "h2"
	seedNote(t, e, p)
	third, _ := e.GetNoteByID(ctx, p.ID)
	if !third.Updated.After(first.Updated) {
		t.Errorf("updated did not advance on content change")
	}
	if !third.Created.Equal(first.Created) {
		t.Errorf("created changed: %v -> %v", first.Created, third.Created)
	}
}

func TestSlotCollisionEvictsOccupant(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedNote(t, e, UpsertParams{
		ID: "n-aaaaaaaa", Type: "notes", Filename: "slot.md", Path: "notes/slot.md",
	})
	seedNote(t, e, UpsertParams{
		ID: "n-bbbbbbbb", Type: "notes", Filename: "slot.md", Path: "notes/slot.md",
	})

	if _, err := e.GetNoteByID(ctx, "n-aaaaaaaa"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("evicted note still present, err = %v", err)
	}
	note, err := e.GetNoteByID(ctx, "n-bbbbbbbb")
	if err != nil {
		t.Fatalf("winner missing: %v", err)
	}
	if note.Filename != "slot.md" {
		t.Errorf("filename = %q", note.Filename)
	}
}

func TestRemoveNote(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedNote(t, e, UpsertParams{
		ID: "n-33333333", Type: "notes", Filename: "del.md", Path: "notes/del.md",
		Metadata: []models.MetadataEntry{{Key: "k", Value: "v", ValueType: models.ValueString}},
		Links:    []models.LinkEdge{{Unresolved: "Somewhere", Relationship: models.RelReferences}},
	})

	if err := e.RemoveNote(ctx, "n-33333333"); err != nil {
		t.Fatalf("RemoveNote: %v", err)
	}
	if _, err := e.GetNoteByID(ctx, "n-33333333"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("note still present after remove")
	}

	conn, _ := e.conns.Writer()
	var count int
	if err := conn.QueryRow(`SELECT count(*) FROM note_metadata WHERE note_id = 'n-33333333'`).Scan(&count); err != nil || count != 0 {
		t.Errorf("metadata rows left: %d (%v)", count, err)
	}
	if err := conn.QueryRow(`SELECT count(*) FROM note_links WHERE source_id = 'n-33333333'`).Scan(&count); err != nil || count != 0 {
		t.Errorf("link rows left: %d (%v)", count, err)
	}

	// Removing an unknown id is a no-op.
	if err := e.RemoveNote(ctx, "n-33333333"); err != nil {
		t.Errorf("second remove errored: %v", err)
	}
}

func TestRemoveNoteByPath(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedNote(t, e, UpsertParams{ID: "n-44444444", Type: "notes", Filename: "p.md", Path: "notes/p.md"})

	if err := e.RemoveNoteByPath(ctx, "notes/p.md"); err != nil {
		t.Fatalf("RemoveNoteByPath: %v", err)
	}
	if _, err := e.GetNoteByPath(ctx, "notes/p.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("note still present after remove by path")
	}
	if err := e.RemoveNoteByPath(ctx, "notes/unknown.md"); err != nil {
		t.Errorf("remove of unknown path errored: %v", err)
	}
}

func TestListNotes(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedNote(t, e, UpsertParams{ID: "n-00000001", Title: "A", Type: "notes", Filename: "a.md", Path: "notes/a.md"})
	time.Sleep(5 * time.Millisecond)
	seedNote(t, e, UpsertParams{ID: "n-00000002", Title: "B", Type: "projects", Filename: "b.md", Path: "projects/b.md"})
	time.Sleep(5 * time.Millisecond)
	seedNote(t, e, UpsertParams{ID: "n-00000003", Title: "C", Type: "notes", Filename: "c.md", Path: "notes/c.md", Archived: true})

	recs, total, err := e.ListNotes(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if total != 2 || len(recs) != 2 {
		t.Fatalf("default listing = %d/%d rows, want 2 (archived excluded)", len(recs), total)
	}
	if recs[0].ID != "n-00000002" {
		t.Errorf("expected newest first, got %q", recs[0].ID)
	}
	if recs[0].Content != "" {
		t.Errorf("listing should not carry bodies")
	}

	recs, total, _ = e.ListNotes(ctx, ListOptions{Type: "notes", IncludeArchived: true})
	if total != 2 || len(recs) != 2 {
		t.Errorf("type filter with archived = %d/%d rows, want 2", len(recs), total)
	}

	recs, total, _ = e.ListNotes(ctx, ListOptions{IncludeArchived: true, Limit: 1})
	if total != 3 || len(recs) != 1 {
		t.Errorf("paged listing = %d/%d, want 1 of 3", len(recs), total)
	}
}

func TestStats(t *testing.T) {
	e := testEngine(t)
	seedNote(t, e, UpsertParams{
		ID: "n-55555555", Type: "notes", Filename: "s1.md", Path: "notes/s1.md",
		Metadata: []models.MetadataEntry{{Key: "a", Value: "1", ValueType: models.ValueNumber}},
		Links:    []models.LinkEdge{{TargetID: "n-66666666", Relationship: models.RelReferences}},
	})
	seedNote(t, e, UpsertParams{ID: "n-66666666", Type: "projects", Filename: "s2.md", Path: "projects/s2.md"})

	st, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Notes != 2 || st.MetadataEntries != 1 || st.Links != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.NotesByType["notes"] != 1 || st.NotesByType["projects"] != 1 {
		t.Errorf("by type = %+v", st.NotesByType)
	}
	if st.SizeBytes <= 0 {
		t.Errorf("size = %d", st.SizeBytes)
	}
}

func TestRefreshReopensLazily(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	seedNote(t, e, UpsertParams{ID: "n-77777777", Type: "notes", Filename: "r.md", Path: "notes/r.md"})

	if err := e.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := e.GetNoteByID(ctx, "n-77777777"); err != nil {
		t.Fatalf("get after refresh: %v", err)
	}
}
