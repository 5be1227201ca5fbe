package index

import (
	"context"

	"github.com/starford/ansuz/internal/models"
)

// NoteIndex is the full indexing and query surface of the engine.
// Consumers should depend on this interface rather than the concrete *Engine
// type to facilitate testing with mocks.
type NoteIndex interface {
	UpsertNote(ctx context.Context, p UpsertParams) error
	RemoveNote(ctx context.Context, id string) error
	RemoveNoteByPath(ctx context.Context, rel string) error
	GetNoteByID(ctx context.Context, id string) (*Note, error)
	GetNoteByPath(ctx context.Context, rel string) (*Note, error)
	ListNotes(ctx context.Context, opts ListOptions) ([]models.NoteRecord, int, error)
	IndexFile(ctx context.Context, rel string) (*Note, error)
	RebuildIndex(ctx context.Context, progress Progress) error
	SyncFileSystemChanges(ctx context.Context, progress Progress) (*SyncStats, error)
	SearchNotes(ctx context.Context, opts SearchOptions) (*SearchResponse, error)
	SearchNotesAdvanced(ctx context.Context, opts AdvancedSearchOptions) (*SearchResponse, error)
	QueryNotesForDataview(ctx context.Context, opts DataviewOptions) (*DataviewResponse, error)
	SearchNotesSQL(ctx context.Context, opts SQLOptions) (*SQLResponse, error)
	Stats(ctx context.Context) (*Stats, error)
	Refresh() error
	Close() error
}

// Verify *Engine satisfies NoteIndex at compile time.
var _ NoteIndex = (*Engine)(nil)
