//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
)

const ftsEnabled = false

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; text search uses the LIKE path over notes.content.
	return nil
}

func ftsUpsert(_ context.Context, _ *sql.Tx, _, _, _ string) error {
	// Content already lives in the notes table; nothing extra to do.
	return nil
}

func ftsDelete(_ context.Context, _ *sql.Tx, _ string) {}

func ftsWipe(_ context.Context, _ *sql.Tx) error { return nil }

func (e *Engine) ftsSearch(_ context.Context, _, _ string, _, _ int) ([]SearchResult, int, error) {
	return nil, 0, fmt.Errorf("index: fts not available in this build")
}
