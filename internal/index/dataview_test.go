package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// seedDataviewCorpus: two project notes with priorities, one plain note
// without, one archived log entry. Seeds sleep a few ms apart so the
// updated stamps order deterministically.
func seedDataviewCorpus(t *testing.T, e *Engine) {
	t.Helper()
	seedNote(t, e, UpsertParams{
		ID: "n-da000001", Title: "Alpha", Content: "alpha body",
		Type: "projects", Filename: "alpha.md", Path: "projects/alpha.md",
		Metadata: []models.MetadataEntry{
			{Key: "priority", Value: "2", ValueType: models.ValueNumber},
		},
	})
	time.Sleep(5 * time.Millisecond)
	seedNote(t, e, UpsertParams{
		ID: "n-da000002", Title: "Beta", Content: "beta body",
		Type: "projects", Filename: "beta.md", Path: "projects/beta.md",
		Metadata: []models.MetadataEntry{
			{Key: "priority", Value: "1", ValueType: models.ValueNumber},
		},
	})
	time.Sleep(5 * time.Millisecond)
	seedNote(t, e, UpsertParams{
		ID: "n-da000003", Title: "Gamma", Content: "gamma body",
		Type: "notes", Filename: "gamma.md", Path: "notes/gamma.md",
	})
	time.Sleep(5 * time.Millisecond)
	seedNote(t, e, UpsertParams{
		ID: "n-da000004", Title: "Delta", Content: "delta body",
		Type: "logs", Filename: "delta.md", Path: "logs/delta.md",
		Archived: true,
	})
}

func dataviewTitles(t *testing.T, e *Engine, opts DataviewOptions) []string {
	t.Helper()
	resp, err := e.QueryNotesForDataview(context.Background(), opts)
	if err != nil {
		t.Fatalf("QueryNotesForDataview: %v", err)
	}
	titles := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		titles = append(titles, r.Title)
	}
	return titles
}

func TestDataview_ArchivedExcludedByDefault(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	if got := dataviewTitles(t, e, DataviewOptions{}); len(got) != 3 {
		t.Fatalf("default got %v", got)
	}
	got := dataviewTitles(t, e, DataviewOptions{IncludeArchived: true})
	if len(got) != 4 {
		t.Fatalf("include archived got %v", got)
	}
}

func TestDataview_TypeFilters(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	got := dataviewTitles(t, e, DataviewOptions{Types: []string{"projects"}})
	if len(got) != 2 {
		t.Fatalf("types filter got %v", got)
	}
	got = dataviewTitles(t, e, DataviewOptions{ExcludeTypes: []string{"notes"}, IncludeArchived: true})
	if len(got) != 3 {
		t.Fatalf("exclude types got %v", got)
	}
	for _, title := range got {
		if title == "Gamma" {
			t.Fatalf("excluded type leaked: %v", got)
		}
	}
}

func TestDataview_DefaultSortNewestFirst(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	got := dataviewTitles(t, e, DataviewOptions{})
	if len(got) != 3 || got[0] != "Gamma" {
		t.Fatalf("default sort got %v", got)
	}
}

func TestDataview_MetadataSortMissingLast(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	got := dataviewTitles(t, e, DataviewOptions{SortBy: "priority"})
	want := []string{"Beta", "Alpha", "Gamma"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending got %v, want %v", got, want)
		}
	}

	// Descending still parks the note without the key at the end.
	got = dataviewTitles(t, e, DataviewOptions{SortBy: "priority", SortDesc: true})
	want = []string{"Alpha", "Beta", "Gamma"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("descending got %v, want %v", got, want)
		}
	}
}

func TestDataview_ColumnSort(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	got := dataviewTitles(t, e, DataviewOptions{SortBy: "title"})
	want := []string{"Alpha", "Beta", "Gamma"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("title sort got %v, want %v", got, want)
		}
	}
}

func TestDataview_RowShape(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	resp, err := e.QueryNotesForDataview(context.Background(), DataviewOptions{Types: []string{"projects"}, SortBy: "priority", SortDesc: true})
	if err != nil {
		t.Fatalf("QueryNotesForDataview: %v", err)
	}
	row := resp.Results[0]
	if row.ID != "n-da000001" {
		t.Fatalf("got row %s", row.ID)
	}
	if row.Content != "" {
		t.Error("dataview rows should not carry bodies")
	}
	if !filepath.IsAbs(row.Path) {
		t.Errorf("path not materialized: %q", row.Path)
	}
	pri, ok := row.Metadata["priority"]
	if !ok || pri.Type != models.ValueNumber || pri.Num != 2 {
		t.Fatalf("priority metadata = %+v", pri)
	}
}

func TestDataview_MetadataFilterAndPagination(t *testing.T) {
	e := testEngine(t)
	seedDataviewCorpus(t, e)

	resp, err := e.QueryNotesForDataview(context.Background(), DataviewOptions{
		Metadata: []MetadataFilter{{Key: "priority", Value: "0", Operator: ">"}},
		SortBy:   "priority",
		Limit:    1,
	})
	if err != nil {
		t.Fatalf("QueryNotesForDataview: %v", err)
	}
	if resp.Total != 2 || len(resp.Results) != 1 || !resp.HasMore {
		t.Fatalf("page 1: total=%d results=%d hasMore=%v", resp.Total, len(resp.Results), resp.HasMore)
	}
	if resp.Results[0].Title != "Beta" {
		t.Fatalf("page 1 row = %q", resp.Results[0].Title)
	}

	resp, err = e.QueryNotesForDataview(context.Background(), DataviewOptions{
		Metadata: []MetadataFilter{{Key: "priority", Value: "0", Operator: ">"}},
		SortBy:   "priority",
		Limit:    1,
		Offset:   1,
	})
	if err != nil {
		t.Fatalf("QueryNotesForDataview: %v", err)
	}
	if len(resp.Results) != 1 || resp.HasMore || resp.Results[0].Title != "Alpha" {
		t.Fatalf("page 2: %+v", resp.Results)
	}
}
