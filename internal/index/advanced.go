package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

// EmptyMarker is the reserved metadata filter value selecting notes where
// the key is missing or blank ("=") or present and non-blank ("!=").
const EmptyMarker = "__empty__"

// DefaultMaxDepth bounds recursive hierarchy traversals.
const DefaultMaxDepth = 10

// MetadataFilter matches one front-matter key against a value. Operator
// defaults to "=". IN and NOT IN take comma-separated value lists; BETWEEN
// takes exactly two comma-separated bounds.
type MetadataFilter struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Operator string `json:"operator,omitempty"`
}

// SortKey orders results by a whitelisted note column.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// AdvancedSearchOptions is the structured query surface: every field is
// optional and all present filters are ANDed. Date filters take the
// ParseDateRange grammar. Hierarchy filters reference note ids; recursive
// ones are bounded by MaxDepth (default 10).
type AdvancedSearchOptions struct {
	Type          string           `json:"type,omitempty"`
	Metadata      []MetadataFilter `json:"metadata,omitempty"`
	CreatedWithin string           `json:"created_within,omitempty"`
	CreatedBefore string           `json:"created_before,omitempty"`
	UpdatedWithin string           `json:"updated_within,omitempty"`
	UpdatedBefore string           `json:"updated_before,omitempty"`
	Contains      string           `json:"contains,omitempty"`
	ParentOf      string           `json:"parent_of,omitempty"`
	ChildOf       string           `json:"child_of,omitempty"`
	DescendantsOf string           `json:"descendants_of,omitempty"`
	AncestorsOf   string           `json:"ancestors_of,omitempty"`
	HasChildren   *bool            `json:"has_children,omitempty"`
	HasParents    *bool            `json:"has_parents,omitempty"`
	MaxDepth      int              `json:"max_depth,omitempty"`
	Sort          []SortKey        `json:"sort,omitempty"`
	Limit         int              `json:"limit,omitempty"`
	Offset        int              `json:"offset,omitempty"`
}

// sortColumns whitelists sortable note columns; metadata values sort through
// the dataview engine instead.
var sortColumns = map[string]string{
	"title":    "n.title",
	"created":  "n.created",
	"updated":  "n.updated",
	"type":     "n.type",
	"kind":     "n.kind",
	"filename": "n.filename",
	"path":     "n.path",
	"size":     "n.size",
}

// SearchNotesAdvanced runs the structured query engine. Every condition
// compiles into the query builder; user values only ever travel as bound
// arguments.
func (e *Engine) SearchNotesAdvanced(ctx context.Context, opts AdvancedSearchOptions) (*SearchResponse, error) {
	start := time.Now()
	limit, offset := clampPage(opts.Limit, opts.Offset)

	b := newQueryBuilder(noteColsQ)
	if opts.Type != "" {
		b.where("n.type = ?", opts.Type)
	}
	for i, f := range opts.Metadata {
		if err := applyMetadataFilter(b, i, f); err != nil {
			return nil, err
		}
	}
	if err := applyDateFilters(b, opts.CreatedWithin, opts.CreatedBefore, opts.UpdatedWithin, opts.UpdatedBefore); err != nil {
		return nil, err
	}
	if opts.Contains != "" {
		like := "%" + opts.Contains + "%"
		b.where("(n.title LIKE ? OR n.content LIKE ?)", like, like)
	}
	applyHierarchyFilters(b, opts)

	if len(opts.Sort) == 0 {
		b.orderBy("n.updated DESC")
	}
	for _, key := range opts.Sort {
		col, ok := sortColumns[key.Field]
		if !ok {
			return nil, fmt.Errorf("index: unsupported sort field %q: %w", key.Field, apperr.ErrInvalidInput)
		}
		if key.Desc {
			col += " DESC"
		}
		b.orderBy(col)
	}

	conn, err := e.conns.Reader()
	if err != nil {
		return nil, err
	}

	countQ, countArgs := b.countSQL()
	var total int
	if err := conn.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("index: advanced count: %w", err)
	}

	b.page(limit, offset)
	q, args := b.selectSQL()
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: advanced search: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		e.materialize(&rec)
		results = append(results, SearchResult{
			NoteRecord: rec,
			Snippet:    contentSnippet(rec.Content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &SearchResponse{
		Results:     results,
		Total:       total,
		HasMore:     offset+len(results) < total,
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// applyMetadataFilter compiles one metadata condition. The empty marker
// needs LEFT JOIN semantics: an inner join could never see notes missing
// the key at all.
func applyMetadataFilter(b *queryBuilder, i int, f MetadataFilter) error {
	if f.Key == "" {
		return fmt.Errorf("index: metadata filter %d: key is required: %w", i, apperr.ErrInvalidInput)
	}
	op := strings.ToUpper(strings.TrimSpace(f.Operator))
	if op == "" {
		op = "="
	}
	alias := fmt.Sprintf("m%d", i)

	if f.Value == EmptyMarker {
		b.join(fmt.Sprintf("LEFT JOIN note_metadata %s ON %s.note_id = n.id AND %s.key = ?", alias, alias, alias), f.Key)
		switch op {
		case "=":
			b.where(fmt.Sprintf("(%s.value IS NULL OR %s.value = '')", alias, alias))
		case "!=":
			b.where(fmt.Sprintf("(%s.value IS NOT NULL AND %s.value != '')", alias, alias))
		default:
			return fmt.Errorf("index: metadata filter %d: operator %q cannot take the empty marker: %w", i, op, apperr.ErrInvalidInput)
		}
		return nil
	}

	b.join(fmt.Sprintf("JOIN note_metadata %s ON %s.note_id = n.id AND %s.key = ?", alias, alias, alias), f.Key)
	switch op {
	case "=", "!=", "LIKE":
		b.where(fmt.Sprintf("%s.value %s ?", alias, op), f.Value)
	case ">", "<", ">=", "<=":
		if isNumeric(f.Value) {
			b.where(fmt.Sprintf("CAST(%s.value AS REAL) %s CAST(? AS REAL)", alias, op), f.Value)
		} else {
			b.where(fmt.Sprintf("%s.value %s ?", alias, op), f.Value)
		}
	case "IN", "NOT IN":
		vals := splitList(f.Value)
		if len(vals) == 0 {
			return fmt.Errorf("index: metadata filter %d: %s needs at least one value: %w", i, op, apperr.ErrInvalidInput)
		}
		placeholders, args := inClause(vals)
		b.where(fmt.Sprintf("%s.value %s (%s)", alias, op, placeholders), args...)
	case "BETWEEN":
		vals := splitList(f.Value)
		if len(vals) != 2 {
			return fmt.Errorf("index: metadata filter %d: BETWEEN needs exactly two comma-separated values: %w", i, apperr.ErrInvalidInput)
		}
		if isNumeric(vals[0]) && isNumeric(vals[1]) {
			b.where(fmt.Sprintf("CAST(%s.value AS REAL) BETWEEN CAST(? AS REAL) AND CAST(? AS REAL)", alias), vals[0], vals[1])
		} else {
			b.where(fmt.Sprintf("%s.value BETWEEN ? AND ?", alias), vals[0], vals[1])
		}
	default:
		return fmt.Errorf("index: metadata filter %d: unsupported operator %q: %w", i, f.Operator, apperr.ErrInvalidInput)
	}
	return nil
}

// applyDateFilters compiles the four created/updated bounds.
func applyDateFilters(b *queryBuilder, createdWithin, createdBefore, updatedWithin, updatedBefore string) error {
	now := time.Now()
	apply := func(token, cond string) error {
		if token == "" {
			return nil
		}
		t, err := ParseDateRange(token, now)
		if err != nil {
			return err
		}
		b.where(cond, toMillis(t))
		return nil
	}
	if err := apply(createdWithin, "n.created >= ?"); err != nil {
		return err
	}
	if err := apply(createdBefore, "n.created < ?"); err != nil {
		return err
	}
	if err := apply(updatedWithin, "n.updated >= ?"); err != nil {
		return err
	}
	return apply(updatedBefore, "n.updated < ?")
}

// applyHierarchyFilters compiles the graph conditions. Recursive traversals
// use a depth-bounded CTE, so a cycle written into front matter terminates
// instead of spinning.
func applyHierarchyFilters(b *queryBuilder, opts AdvancedSearchOptions) {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}

	if opts.ParentOf != "" {
		b.where("n.id IN (SELECT parent_id FROM note_hierarchy WHERE child_id = ?)", opts.ParentOf)
	}
	if opts.ChildOf != "" {
		b.where("n.id IN (SELECT child_id FROM note_hierarchy WHERE parent_id = ?)", opts.ChildOf)
	}
	if opts.DescendantsOf != "" {
		b.with(`descendants(id, depth) AS (
			SELECT child_id, 1 FROM note_hierarchy WHERE parent_id = ?
			UNION ALL
			SELECT h.child_id, d.depth + 1
			FROM note_hierarchy h
			JOIN descendants d ON h.parent_id = d.id
			WHERE d.depth < ?
		)`, opts.DescendantsOf, depth)
		b.where("n.id IN (SELECT id FROM descendants)")
	}
	if opts.AncestorsOf != "" {
		b.with(`ancestors(id, depth) AS (
			SELECT parent_id, 1 FROM note_hierarchy WHERE child_id = ?
			UNION ALL
			SELECT h.parent_id, a.depth + 1
			FROM note_hierarchy h
			JOIN ancestors a ON h.child_id = a.id
			WHERE a.depth < ?
		)`, opts.AncestorsOf, depth)
		b.where("n.id IN (SELECT id FROM ancestors)")
	}
	if opts.HasChildren != nil {
		if *opts.HasChildren {
			b.where("EXISTS (SELECT 1 FROM note_hierarchy WHERE parent_id = n.id)")
		} else {
			b.where("NOT EXISTS (SELECT 1 FROM note_hierarchy WHERE parent_id = n.id)")
		}
	}
	if opts.HasParents != nil {
		if *opts.HasParents {
			b.where("EXISTS (SELECT 1 FROM note_hierarchy WHERE child_id = n.id)")
		} else {
			b.where("NOT EXISTS (SELECT 1 FROM note_hierarchy WHERE child_id = n.id)")
		}
	}
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
