package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// listQuery accumulates WHERE clauses and positional arguments.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	q.sb.WriteString(" WHERE 1=1")
	return q
}

// where appends "AND <clause>" where clause holds one %s for the placeholder.
func (q *listQuery) where(clause string, arg any) {
	q.args = append(q.args, arg)
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(clause, fmt.Sprintf("$%d", len(q.args))))
}

// window applies the created_at range, ordering and pagination of opts.
func (q *listQuery) window(opts domain.ListOpts, orderBy string) (string, []any) {
	if opts.Since != nil {
		q.where("created_at >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where("created_at <= %s", *opts.Until)
	}
	q.sb.WriteString(" ORDER BY ")
	q.sb.WriteString(orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&q.sb, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&q.sb, " OFFSET $%d", len(q.args))
	}
	return q.sb.String(), q.args
}
