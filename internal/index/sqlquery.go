package index

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// DefaultSQLLimit caps sandbox result sets when the query itself carries no
// LIMIT clause.
const DefaultSQLLimit = 100

var (
	limitKeywordRe = regexp.MustCompile(`(?i)\blimit\b`)
	aggregateRe    = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max|total|group_concat)\s*\(`)
	groupByRe      = regexp.MustCompile(`(?i)\bgroup\s+by\b`)
	trivialScanRe  = regexp.MustCompile(`(?is)^\s*select\s+\*\s+from\s+notes\b`)
)

// SQLOptions parameterizes a sandbox query. This is the only engine path
// with caller-controlled timeouts; Timeout <= 0 means none.
type SQLOptions struct {
	Query   string
	Params  []any
	Limit   int
	Timeout time.Duration
}

// SQLResponse carries sandbox rows. Aggregation reports whether the query
// was detected as an aggregate, in which case Results holds the raw
// projected columns instead of note-shaped rows.
type SQLResponse struct {
	Results     []map[string]any `json:"results"`
	Columns     []string         `json:"columns"`
	RowCount    int              `json:"row_count"`
	Aggregation bool             `json:"aggregation"`
	QueryTimeMs int64            `json:"query_time_ms"`
}

// SearchNotesSQL validates and executes a raw SELECT against the read-only
// handle. A LIMIT is appended as a bound parameter when the statement has
// none. Non-aggregate rows are coerced toward the standard note shape:
// timestamp columns become RFC 3339 strings and archived becomes a bool.
func (e *Engine) SearchNotesSQL(ctx context.Context, opts SQLOptions) (*SQLResponse, error) {
	if secErr := ValidateSandboxSQL(opts.Query); secErr != nil {
		return nil, secErr
	}

	conn, err := e.conns.Reader()
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSQLLimit
	}
	query := opts.Query
	args := append([]any{}, opts.Params...)
	if !limitKeywordRe.MatchString(query) {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: sandbox query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("index: sandbox columns: %w", err)
	}

	agg := isAggregation(opts.Query)
	results := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("index: sandbox scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeSQLValue(vals[i])
		}
		if !agg {
			noteShape(row)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: sandbox rows: %w", err)
	}

	return &SQLResponse{
		Results:     results,
		Columns:     cols,
		RowCount:    len(results),
		Aggregation: agg,
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// isAggregation detects aggregate projections or GROUP BY. A plain
// `SELECT * FROM notes ...` scan is never treated as aggregation even when
// a filter mentions an aggregate-looking name.
func isAggregation(query string) bool {
	if trivialScanRe.MatchString(query) {
		return false
	}
	return aggregateRe.MatchString(query) || groupByRe.MatchString(query)
}

func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// noteShape rewrites known note columns in place to their API form.
func noteShape(row map[string]any) {
	for _, col := range []string{"created", "updated", "file_mtime"} {
		if ms, ok := row[col].(int64); ok && ms > 0 {
			row[col] = fromMillis(ms).Format(time.RFC3339)
		}
	}
	if a, ok := row["archived"].(int64); ok {
		row["archived"] = a != 0
	}
}
