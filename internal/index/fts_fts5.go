//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

const ftsEnabled = true

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			id UNINDEXED,
			title,
			content,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, id, title, content string) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM notes_fts WHERE id = ?`, id)
	_, err := tx.ExecContext(ctx, `INSERT INTO notes_fts (id, title, content) VALUES (?, ?, ?)`,
		id, title, content)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(ctx context.Context, tx *sql.Tx, id string) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM notes_fts WHERE id = ?`, id)
}

func ftsWipe(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM notes_fts`)
	return err
}

// ftsSearch runs an FTS5 MATCH with bm25 ranking and a highlighted snippet.
// match must already be escaped by ftsEscape.
func (e *Engine) ftsSearch(ctx context.Context, match, noteType string, limit, offset int) ([]SearchResult, int, error) {
	conn, err := e.conns.Reader()
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE notes_fts MATCH ?`
	args := []any{match}
	if noteType != "" {
		where += ` AND n.type = ?`
		args = append(args, noteType)
	}

	var total int
	err = conn.QueryRowContext(ctx,
		`SELECT count(*) FROM notes_fts JOIN notes n ON n.id = notes_fts.id`+where, args...).
		Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("index: fts count: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT n.id, n.title, n.content, n.type, n.kind, n.filename, n.path,
		       n.size, n.content_hash, n.file_mtime, n.created, n.updated, n.archived,
		       bm25(notes_fts),
		       snippet(notes_fts, 2, '<b>', '</b>', '...', 64)
		FROM notes_fts
		JOIN notes n ON n.id = notes_fts.id`+where+`
		ORDER BY rank
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: fts search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var rec models.NoteRecord
		var mtime, created, updated int64
		var archived int
		var score float64
		var snip string
		err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Type, &rec.Kind,
			&rec.Filename, &rec.Path, &rec.Size, &rec.ContentHash,
			&mtime, &created, &updated, &archived, &score, &snip)
		if err != nil {
			return nil, 0, err
		}
		rec.FileMtime = fromMillis(mtime)
		rec.Created = fromMillis(created)
		rec.Updated = fromMillis(updated)
		rec.Archived = archived != 0
		e.materialize(&rec)
		out = append(out, SearchResult{NoteRecord: rec, Score: score, Snippet: snip})
	}
	return out, total, rows.Err()
}
