package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// noteCols is the canonical column order used by every note scan.
const noteCols = `id, title, content, type, kind, filename, path, size, content_hash, file_mtime, created, updated, archived`

// noteColsLite substitutes an empty content column so list-style queries
// skip hauling note bodies while reusing the same scan.
const noteColsLite = `id, title, '' AS content, type, kind, filename, path, size, content_hash, file_mtime, created, updated, archived`

// Qualified variants for builder queries that join other tables.
const (
	noteColsQ     = `n.id, n.title, n.content, n.type, n.kind, n.filename, n.path, n.size, n.content_hash, n.file_mtime, n.created, n.updated, n.archived`
	noteColsQLite = `n.id, n.title, '' AS content, n.type, n.kind, n.filename, n.path, n.size, n.content_hash, n.file_mtime, n.created, n.updated, n.archived`
)

// Note is a record together with its decoded metadata.
type Note struct {
	models.NoteRecord
	Metadata map[string]models.Value `json:"metadata"`
}

// UpsertParams carries everything needed to write one note's derived rows.
// Path is vault-relative.
type UpsertParams struct {
	ID          string
	Title       string
	Content     string
	Type        string
	Kind        string
	Filename    string
	Path        string
	Size        int64
	ContentHash string
	FileMtime   time.Time
	Archived    bool
	Metadata    []models.MetadataEntry
	Links       []models.LinkEdge
	ParentID    string
	Position    int
}

// UpsertNote writes a note row and all of its derived rows (FTS, metadata,
// links, hierarchy) in one transaction.
//
// Slot semantics: (type, filename) identifies at most one note. When the
// slot is occupied by a different id, the occupant's rows are deleted and
// the incoming note takes the slot; the file's embedded id always wins.
// The updated stamp only advances when the content hash changes.
func (e *Engine) UpsertNote(ctx context.Context, p UpsertParams) error {
	conn, err := e.conns.Writer()
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	// Evict a different note occupying this (type, filename) slot.
	var occupant string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM notes WHERE type = ? AND filename = ? AND id != ?`,
		p.Type, p.Filename, p.ID).Scan(&occupant)
	switch {
	case err == nil:
		e.logger.Warn("index: slot collision, evicting stale row",
			slog.String("type", p.Type),
			slog.String("filename", p.Filename),
			slog.String("evicted", occupant),
			slog.String("winner", p.ID))
		if err := deleteNoteRows(ctx, tx, occupant); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		// Slot free.
	default:
		return fmt.Errorf("index: check slot: %w", err)
	}

	now := time.Now()
	created := now
	updated := now
	var prevCreated, prevUpdated int64
	var prevHash string
	err = tx.QueryRowContext(ctx,
		`SELECT created, updated, content_hash FROM notes WHERE id = ?`, p.ID).
		Scan(&prevCreated, &prevUpdated, &prevHash)
	switch {
	case err == nil:
		created = fromMillis(prevCreated)
		if prevHash == p.ContentHash {
			updated = fromMillis(prevUpdated)
		}
	case errors.Is(err, sql.ErrNoRows):
		// First time indexed.
	default:
		return fmt.Errorf("index: read previous row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, type, kind, filename, path, size, content_hash, file_mtime, created, updated, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title        = excluded.title,
			content      = excluded.content,
			type         = excluded.type,
			kind         = excluded.kind,
			filename     = excluded.filename,
			path         = excluded.path,
			size         = excluded.size,
			content_hash = excluded.content_hash,
			file_mtime   = excluded.file_mtime,
			updated      = excluded.updated,
			archived     = excluded.archived
	`, p.ID, p.Title, p.Content, p.Type, p.Kind, p.Filename, p.Path, p.Size,
		p.ContentHash, toMillis(p.FileMtime), toMillis(created), toMillis(updated), boolToInt(p.Archived))
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}

	// FTS shadow row (no-op when FTS5 is not compiled in).
	if err := ftsUpsert(ctx, tx, p.ID, p.Title, p.Content); err != nil {
		return err
	}

	// Metadata: full delete and reinsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_metadata WHERE note_id = ?`, p.ID); err != nil {
		return fmt.Errorf("index: clear metadata: %w", err)
	}
	if len(p.Metadata) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO note_metadata (note_id, key, value, value_type) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare metadata insert: %w", err)
		}
		defer stmt.Close()
		for _, m := range p.Metadata {
			if _, err := stmt.ExecContext(ctx, p.ID, m.Key, m.Value, string(m.ValueType)); err != nil {
				return fmt.Errorf("index: insert metadata %q: %w", m.Key, err)
			}
		}
	}

	// Links: replace all outgoing edges.
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_links WHERE source_id = ?`, p.ID); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if len(p.Links) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO note_links (source_id, target_id, unresolved_target, relationship, display_text, position)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range p.Links {
			if _, err := stmt.ExecContext(ctx, p.ID,
				nullable(l.TargetID), nullable(l.Unresolved),
				l.Relationship, l.DisplayText, l.Position); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	// Hierarchy: this note's parent edge.
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_hierarchy WHERE child_id = ?`, p.ID); err != nil {
		return fmt.Errorf("index: clear hierarchy: %w", err)
	}
	if p.ParentID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO note_hierarchy (parent_id, child_id, position) VALUES (?, ?, ?)`,
			p.ParentID, p.ID, p.Position); err != nil {
			return fmt.Errorf("index: insert hierarchy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit upsert: %w", err)
	}
	return nil
}

// RemoveNote deletes a note and all of its derived rows. Removing an unknown
// id is a no-op. Incoming link rows are left in place: they belong to their
// source notes and reindexing those files would recreate them identically.
func (e *Engine) RemoveNote(ctx context.Context, id string) error {
	conn, err := e.conns.Writer()
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteNoteRows(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit remove: %w", err)
	}
	return nil
}

// RemoveNoteByPath deletes the note indexed at the given vault-relative
// path, if any.
func (e *Engine) RemoveNoteByPath(ctx context.Context, rel string) error {
	conn, err := e.conns.Writer()
	if err != nil {
		return err
	}
	var id string
	err = conn.QueryRowContext(ctx, `SELECT id FROM notes WHERE path = ?`, rel).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: lookup by path: %w", err)
	}
	return e.RemoveNote(ctx, id)
}

// deleteNoteRows removes every row belonging to id inside an open tx.
func deleteNoteRows(ctx context.Context, tx *sql.Tx, id string) error {
	ftsDelete(ctx, tx, id)
	for _, q := range []string{
		`DELETE FROM note_metadata WHERE note_id = ?`,
		`DELETE FROM note_links WHERE source_id = ?`,
		`DELETE FROM notes WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("index: delete note rows: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM note_hierarchy WHERE parent_id = ? OR child_id = ?`, id, id); err != nil {
		return fmt.Errorf("index: delete hierarchy rows: %w", err)
	}
	return nil
}

// GetNoteByID returns a note with its metadata. Unknown ids return
// apperr.ErrNotFound.
func (e *Engine) GetNoteByID(ctx context.Context, id string) (*Note, error) {
	conn, err := e.conns.Reader()
	if err != nil {
		return nil, err
	}
	row := conn.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE id = ?`, id)
	rec, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note: %w", err)
	}
	meta, err := fetchMetadata(ctx, conn, []string{rec.ID})
	if err != nil {
		return nil, err
	}
	e.materialize(&rec)
	return &Note{NoteRecord: rec, Metadata: metadataFor(meta, rec.ID)}, nil
}

// GetNoteByPath returns the note indexed at a vault-relative path.
func (e *Engine) GetNoteByPath(ctx context.Context, rel string) (*Note, error) {
	conn, err := e.conns.Reader()
	if err != nil {
		return nil, err
	}
	row := conn.QueryRowContext(ctx, `SELECT `+noteCols+` FROM notes WHERE path = ?`, rel)
	rec, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get note by path: %w", err)
	}
	meta, err := fetchMetadata(ctx, conn, []string{rec.ID})
	if err != nil {
		return nil, err
	}
	e.materialize(&rec)
	return &Note{NoteRecord: rec, Metadata: metadataFor(meta, rec.ID)}, nil
}

// ListOptions selects and pages a plain note listing.
type ListOptions struct {
	Type            string
	Limit           int
	Offset          int
	IncludeArchived bool
}

// ListNotes returns records (without bodies) ordered by most recently
// updated, plus the pre-pagination total.
func (e *Engine) ListNotes(ctx context.Context, opts ListOptions) ([]models.NoteRecord, int, error) {
	conn, err := e.conns.Reader()
	if err != nil {
		return nil, 0, err
	}
	limit, offset := clampPage(opts.Limit, opts.Offset)

	where := ` WHERE 1=1`
	var args []any
	if opts.Type != "" {
		where += ` AND type = ?`
		args = append(args, opts.Type)
	}
	if !opts.IncludeArchived {
		where += ` AND archived = 0`
	}

	var total int
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM notes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count notes: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+noteColsLite+` FROM notes`+where+` ORDER BY updated DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var out []models.NoteRecord
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		e.materialize(&rec)
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanNote.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(sc rowScanner) (models.NoteRecord, error) {
	var rec models.NoteRecord
	var mtime, created, updated int64
	var archived int
	err := sc.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Type, &rec.Kind,
		&rec.Filename, &rec.Path, &rec.Size, &rec.ContentHash,
		&mtime, &created, &updated, &archived)
	if err != nil {
		return rec, err
	}
	rec.FileMtime = fromMillis(mtime)
	rec.Created = fromMillis(created)
	rec.Updated = fromMillis(updated)
	rec.Archived = archived != 0
	return rec, nil
}

// fetchMetadata loads metadata for a set of note ids with a single query.
func fetchMetadata(ctx context.Context, conn *sql.DB, ids []string) (map[string]map[string]models.Value, error) {
	out := make(map[string]map[string]models.Value, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders, args := inClause(ids)
	rows, err := conn.QueryContext(ctx,
		`SELECT note_id, key, value, value_type FROM note_metadata WHERE note_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: fetch metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var noteID, key, value, vt string
		if err := rows.Scan(&noteID, &key, &value, &vt); err != nil {
			return nil, err
		}
		m := out[noteID]
		if m == nil {
			m = make(map[string]models.Value)
			out[noteID] = m
		}
		m[key] = DecodeValue(value, models.ValueType(vt))
	}
	return out, rows.Err()
}

func metadataFor(all map[string]map[string]models.Value, id string) map[string]models.Value {
	if m, ok := all[id]; ok {
		return m
	}
	return map[string]models.Value{}
}

// inClause builds "?, ?, ..." plus the matching args for an IN list.
func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	buf := make([]byte, 0, len(values)*3)
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, '?')
		args[i] = v
	}
	return string(buf), args
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
