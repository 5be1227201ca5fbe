// Package noteservice is the application facade over the vault and the
// index: mutations go through here so files stay authoritative, the index
// stays current, and listeners hear about the change.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/vault"
)

// Notifier receives change notifications after successful mutations.
// *sse.Broker satisfies it.
type Notifier interface {
	PublishNoteEvent(kind, id, path string)
	PublishSynced()
}

// Service coordinates vault and index operations.
type Service struct {
	fs     *vault.FS
	writer vault.Writer
	engine index.NoteIndex
	notify Notifier
}

// NewService creates a note service. writer should be the same tracked
// writer the engine uses, so service-initiated file writes do not echo back
// through the watcher; nil falls back to direct vault writes. notify may be
// nil.
func NewService(fs *vault.FS, writer vault.Writer, engine index.NoteIndex, notify Notifier) *Service {
	if writer == nil {
		writer = fs
	}
	return &Service{fs: fs, writer: writer, engine: engine, notify: notify}
}

// GetNote returns a note with its decoded metadata.
func (s *Service) GetNote(ctx context.Context, id string) (*index.Note, error) {
	return s.engine.GetNoteByID(ctx, id)
}

// CreateNote writes a new note file into its type directory and indexes it.
// The returned note reflects the normalized file, id and title included.
func (s *Service) CreateNote(ctx context.Context, noteType, filename string, content []byte) (*index.Note, error) {
	if err := validateSlot(noteType, filename); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(filename, ".md") {
		filename += ".md"
	}
	rel := path.Join(noteType, filename)

	if _, err := s.fs.Stat(rel); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.writer.Write(rel, content); err != nil {
		return nil, err
	}
	note, err := s.engine.IndexFile(ctx, rel)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify.PublishNoteEvent(index.EventCreated, note.ID, rel)
	}
	return note, nil
}

// UpdateNote replaces a note's file content with optimistic concurrency:
// a non-empty ifMatch must equal the checksum of the current file bytes.
func (s *Service) UpdateNote(ctx context.Context, id string, content []byte, ifMatch string) (*index.Note, error) {
	note, err := s.engine.GetNoteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rel, err := s.relPath(note)
	if err != nil {
		return nil, err
	}

	existing, err := s.fs.Read(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}

	// Stamp the addressed id into the incoming content so a body-only
	// update cannot shed the note's identity.
	doc := frontmatter.Parse(content)
	doc.Set("ansuz-id", note.ID)
	stamped, err := doc.Compose()
	if err != nil {
		return nil, err
	}

	if err := s.writer.Write(rel, stamped); err != nil {
		return nil, err
	}
	updated, err := s.engine.IndexFile(ctx, rel)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify.PublishNoteEvent(index.EventUpdated, updated.ID, rel)
	}
	return updated, nil
}

// DeleteNote removes the note's file and its index rows.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	note, err := s.engine.GetNoteByID(ctx, id)
	if err != nil {
		return err
	}
	rel, err := s.relPath(note)
	if err != nil {
		return err
	}
	if err := s.fs.Delete(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := s.engine.RemoveNote(ctx, note.ID); err != nil {
		return err
	}
	if s.notify != nil {
		s.notify.PublishNoteEvent(index.EventDeleted, note.ID, rel)
	}
	return nil
}

// ListNotes delegates to the index.
func (s *Service) ListNotes(ctx context.Context, opts index.ListOptions) ([]models.NoteRecord, int, error) {
	return s.engine.ListNotes(ctx, opts)
}

// Search delegates simple text search to the index.
func (s *Service) Search(ctx context.Context, opts index.SearchOptions) (*index.SearchResponse, error) {
	return s.engine.SearchNotes(ctx, opts)
}

// SearchAdvanced delegates the structured query engine.
func (s *Service) SearchAdvanced(ctx context.Context, opts index.AdvancedSearchOptions) (*index.SearchResponse, error) {
	return s.engine.SearchNotesAdvanced(ctx, opts)
}

// Dataview delegates the batch table query engine.
func (s *Service) Dataview(ctx context.Context, opts index.DataviewOptions) (*index.DataviewResponse, error) {
	return s.engine.QueryNotesForDataview(ctx, opts)
}

// SQL delegates a sandboxed read-only query.
func (s *Service) SQL(ctx context.Context, opts index.SQLOptions) (*index.SQLResponse, error) {
	return s.engine.SearchNotesSQL(ctx, opts)
}

// Stats delegates to the index.
func (s *Service) Stats(ctx context.Context) (*index.Stats, error) {
	return s.engine.Stats(ctx)
}

// Sync reconciles the index with the filesystem and announces the result.
func (s *Service) Sync(ctx context.Context) (*index.SyncStats, error) {
	stats, err := s.engine.SyncFileSystemChanges(ctx, nil)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify.PublishSynced()
	}
	return stats, nil
}

// Rebuild drops and reconstructs the whole index, then announces it.
func (s *Service) Rebuild(ctx context.Context, progress index.Progress) error {
	if err := s.engine.RebuildIndex(ctx, progress); err != nil {
		return err
	}
	if s.notify != nil {
		s.notify.PublishSynced()
	}
	return nil
}

// relPath recovers the vault-relative path from a materialized note.
func (s *Service) relPath(note *index.Note) (string, error) {
	return filepath.Rel(s.fs.Root(), note.Path)
}

func validateSlot(noteType, filename string) error {
	switch {
	case noteType == "" || filename == "":
		return fmt.Errorf("noteservice: type and filename are required: %w", apperr.ErrInvalidInput)
	case strings.ContainsAny(noteType, "/\\") || strings.ContainsAny(filename, "/\\"):
		return fmt.Errorf("noteservice: type and filename must be single path segments: %w", apperr.ErrInvalidInput)
	case strings.HasPrefix(noteType, "."):
		return fmt.Errorf("noteservice: hidden directories cannot hold notes: %w", apperr.ErrInvalidInput)
	}
	return nil
}
