package index

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// DataviewOptions shapes a table-building batch query. Archived notes are
// excluded unless IncludeArchived is set. SortBy accepts either a note
// column or a metadata key; metadata sorts always place notes missing the
// key (or holding a blank) last, in both directions.
type DataviewOptions struct {
	Types           []string         `json:"types,omitempty"`
	ExcludeTypes    []string         `json:"exclude_types,omitempty"`
	Metadata        []MetadataFilter `json:"metadata,omitempty"`
	CreatedWithin   string           `json:"created_within,omitempty"`
	CreatedBefore   string           `json:"created_before,omitempty"`
	UpdatedWithin   string           `json:"updated_within,omitempty"`
	UpdatedBefore   string           `json:"updated_before,omitempty"`
	SortBy          string           `json:"sort_by,omitempty"`
	SortDesc        bool             `json:"sort_desc,omitempty"`
	Limit           int              `json:"limit,omitempty"`
	Offset          int              `json:"offset,omitempty"`
	IncludeArchived bool             `json:"include_archived,omitempty"`
}

// DataviewRow is one result: the record (body omitted) plus its full
// decoded metadata map.
type DataviewRow struct {
	models.NoteRecord
	Metadata map[string]models.Value `json:"metadata"`
}

// DataviewResponse pages dataview rows.
type DataviewResponse struct {
	Results     []DataviewRow `json:"results"`
	Total       int           `json:"total"`
	HasMore     bool          `json:"has_more"`
	QueryTimeMs int64         `json:"query_time_ms"`
}

// QueryNotesForDataview runs the batch engine: one query for the page of
// note rows, then one batched metadata fetch for every id on the page,
// merged in memory. Metadata never loads row by row.
func (e *Engine) QueryNotesForDataview(ctx context.Context, opts DataviewOptions) (*DataviewResponse, error) {
	start := time.Now()
	limit, offset := clampPage(opts.Limit, opts.Offset)

	b := newQueryBuilder(noteColsQLite)
	if !opts.IncludeArchived {
		b.where("n.archived = 0")
	}
	if len(opts.Types) > 0 {
		placeholders, args := inClause(opts.Types)
		b.where("n.type IN ("+placeholders+")", args...)
	}
	if len(opts.ExcludeTypes) > 0 {
		placeholders, args := inClause(opts.ExcludeTypes)
		b.where("n.type NOT IN ("+placeholders+")", args...)
	}
	for i, f := range opts.Metadata {
		if err := applyMetadataFilter(b, i, f); err != nil {
			return nil, err
		}
	}
	if err := applyDateFilters(b, opts.CreatedWithin, opts.CreatedBefore, opts.UpdatedWithin, opts.UpdatedBefore); err != nil {
		return nil, err
	}

	dir := ""
	if opts.SortDesc {
		dir = " DESC"
	}
	switch {
	case opts.SortBy == "":
		b.orderBy("n.updated DESC")
	default:
		if col, ok := sortColumns[opts.SortBy]; ok {
			b.orderBy(col + dir)
			break
		}
		// Metadata key sort. The leading boolean key stays ascending so
		// missing and blank values sort last regardless of direction.
		b.join("LEFT JOIN note_metadata sortm ON sortm.note_id = n.id AND sortm.key = ?", opts.SortBy)
		b.orderBy("(sortm.value IS NULL OR sortm.value = '')")
		b.orderBy("sortm.value" + dir)
	}

	conn, err := e.conns.Reader()
	if err != nil {
		return nil, err
	}

	countQ, countArgs := b.countSQL()
	var total int
	if err := conn.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("index: dataview count: %w", err)
	}

	b.page(limit, offset)
	q, args := b.selectSQL()
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: dataview query: %w", err)
	}
	defer rows.Close()

	results := []DataviewRow{}
	ids := make([]string, 0, limit)
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		ids = append(ids, rec.ID)
		e.materialize(&rec)
		results = append(results, DataviewRow{NoteRecord: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	meta, err := fetchMetadata(ctx, conn, ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Metadata = metadataFor(meta, results[i].ID)
	}

	return &DataviewResponse{
		Results:     results,
		Total:       total,
		HasMore:     offset+len(results) < total,
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
