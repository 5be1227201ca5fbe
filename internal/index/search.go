package index

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// SearchOptions selects notes for simple text search. An empty Query lists
// all notes (newest first). UseRegex treats Query as a case-insensitive
// regular expression evaluated over titles and bodies.
type SearchOptions struct {
	Query    string
	Type     string
	Limit    int
	Offset   int
	UseRegex bool
}

// SearchResult is one hit: the note plus relevance score and snippet.
type SearchResult struct {
	models.NoteRecord
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// SearchResponse pages search hits.
type SearchResponse struct {
	Results     []SearchResult `json:"results"`
	Total       int            `json:"total"`
	HasMore     bool           `json:"has_more"`
	QueryTimeMs int64          `json:"query_time_ms"`
}

// SearchNotes runs the simple text engine: FTS5 match when compiled in,
// falling back to LIKE containment when FTS is unavailable or rejects the
// query. Regex mode bypasses FTS entirely.
func (e *Engine) SearchNotes(ctx context.Context, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	limit, offset := clampPage(opts.Limit, opts.Offset)
	query := strings.TrimSpace(opts.Query)

	var (
		results []SearchResult
		total   int
		err     error
	)
	switch {
	case opts.UseRegex && query != "":
		results, total, err = e.regexSearch(ctx, query, opts.Type, limit, offset)
	case query != "" && ftsEnabled:
		results, total, err = e.ftsSearch(ctx, ftsEscape(query), opts.Type, limit, offset)
		if err != nil {
			// FTS can reject terms its tokenizer cannot handle; the LIKE
			// path accepts anything.
			e.logger.Warn("index: fts search failed, using like fallback",
				slog.String("query", query), slog.String("error", err.Error()))
			results, total, err = e.likeSearch(ctx, query, opts.Type, limit, offset)
		}
	default:
		results, total, err = e.likeSearch(ctx, query, opts.Type, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []SearchResult{}
	}
	return &SearchResponse{
		Results:     results,
		Total:       total,
		HasMore:     offset+len(results) < total,
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// ftsEscape turns free text into a safe FTS5 MATCH expression: each word
// becomes a quoted term (internal quotes doubled), so user input can never
// be parsed as FTS syntax. Terms are implicitly ANDed.
func ftsEscape(query string) string {
	words := strings.Fields(query)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

// likeSearch is the containment path: substring match on title or content,
// newest first, fixed score. With an empty query it degrades to a plain
// listing.
func (e *Engine) likeSearch(ctx context.Context, query, noteType string, limit, offset int) ([]SearchResult, int, error) {
	conn, err := e.conns.Reader()
	if err != nil {
		return nil, 0, err
	}

	where := ` WHERE 1=1`
	var args []any
	if query != "" {
		like := "%" + query + "%"
		where += ` AND (title LIKE ? OR content LIKE ?)`
		args = append(args, like, like)
	}
	if noteType != "" {
		where += ` AND type = ?`
		args = append(args, noteType)
	}

	var total int
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM notes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: like count: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+noteCols+` FROM notes`+where+` ORDER BY updated DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: like search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		e.materialize(&rec)
		score := 1.0
		if query == "" {
			score = 0
		}
		out = append(out, SearchResult{
			NoteRecord: rec,
			Score:      score,
			Snippet:    contentSnippet(rec.Content),
		})
	}
	return out, total, rows.Err()
}

// regexSearch compiles the pattern case-insensitively and filters candidates
// in application code; SQLite has no regex support without an extension.
func (e *Engine) regexSearch(ctx context.Context, pattern, noteType string, limit, offset int) ([]SearchResult, int, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("index: compile pattern: %w: %w", apperr.ErrInvalidPattern, err)
	}

	conn, connErr := e.conns.Reader()
	if connErr != nil {
		return nil, 0, connErr
	}

	where := ` WHERE 1=1`
	var args []any
	if noteType != "" {
		where += ` AND type = ?`
		args = append(args, noteType)
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT `+noteCols+` FROM notes`+where+` ORDER BY updated DESC`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: regex candidates: %w", err)
	}
	defer rows.Close()

	var matched []SearchResult
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		loc := re.FindStringIndex(rec.Content)
		if loc == nil && !re.MatchString(rec.Title) {
			continue
		}
		e.materialize(&rec)
		snippet := contentSnippet(rec.Content)
		if loc != nil {
			snippet = snippetAround(rec.Content, loc[0])
		}
		matched = append(matched, SearchResult{NoteRecord: rec, Score: 1.0, Snippet: snippet})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

const snippetLen = 500

// contentSnippet returns roughly the first snippetLen characters of content,
// cut at a line boundary when one is close, with an ellipsis when truncated.
func contentSnippet(content string) string {
	if len(content) <= snippetLen {
		return content
	}
	cut := snippetLen
	if i := strings.LastIndexByte(content[:snippetLen], '\n'); i > snippetLen/2 {
		cut = i
	}
	return strings.TrimRight(content[:cut], "\n ") + "..."
}

// snippetAround extracts a window starting at the line containing pos.
func snippetAround(content string, pos int) string {
	start := strings.LastIndexByte(content[:pos], '\n') + 1
	rest := content[start:]
	if len(rest) <= snippetLen {
		return rest
	}
	return strings.TrimRight(rest[:snippetLen], "\n ") + "..."
}
