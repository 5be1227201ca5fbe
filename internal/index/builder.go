package index

import "strings"

// queryBuilder assembles a SELECT over `notes n` from ordered pieces: CTEs,
// joins, predicates, sort keys, paging. Values never enter the SQL text;
// they ride in the arg slices, segregated per section so the count variant
// can drop ordering and paging without reshuffling placeholders.
type queryBuilder struct {
	cols   string
	withs  []string
	joins  []string
	wheres []string
	orders []string

	withArgs  []any
	joinArgs  []any
	whereArgs []any

	limit  int
	offset int
}

func newQueryBuilder(cols string) *queryBuilder {
	return &queryBuilder{cols: cols, limit: -1}
}

func (b *queryBuilder) with(clause string, args ...any) {
	b.withs = append(b.withs, clause)
	b.withArgs = append(b.withArgs, args...)
}

func (b *queryBuilder) join(clause string, args ...any) {
	b.joins = append(b.joins, clause)
	b.joinArgs = append(b.joinArgs, args...)
}

func (b *queryBuilder) where(cond string, args ...any) {
	b.wheres = append(b.wheres, cond)
	b.whereArgs = append(b.whereArgs, args...)
}

func (b *queryBuilder) orderBy(expr string) {
	b.orders = append(b.orders, expr)
}

func (b *queryBuilder) page(limit, offset int) {
	b.limit = limit
	b.offset = offset
}

// selectSQL renders the full query and its args.
func (b *queryBuilder) selectSQL() (string, []any) {
	var sb strings.Builder
	args := b.prefix(&sb)
	sb.WriteString("SELECT ")
	sb.WriteString(b.cols)
	sb.WriteString(" FROM notes n")
	b.body(&sb)
	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
	if b.limit >= 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, b.limit, b.offset)
	}
	return sb.String(), args
}

// countSQL renders the matching pre-pagination count query.
func (b *queryBuilder) countSQL() (string, []any) {
	var sb strings.Builder
	args := b.prefix(&sb)
	sb.WriteString("SELECT count(*) FROM notes n")
	b.body(&sb)
	return sb.String(), args
}

func (b *queryBuilder) prefix(sb *strings.Builder) []any {
	args := make([]any, 0, len(b.withArgs)+len(b.joinArgs)+len(b.whereArgs)+2)
	if len(b.withs) > 0 {
		sb.WriteString("WITH RECURSIVE ")
		sb.WriteString(strings.Join(b.withs, ", "))
		sb.WriteString(" ")
	}
	args = append(args, b.withArgs...)
	args = append(args, b.joinArgs...)
	args = append(args, b.whereArgs...)
	return args
}

func (b *queryBuilder) body(sb *strings.Builder) {
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
}
