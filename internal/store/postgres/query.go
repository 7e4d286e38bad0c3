package postgres

import (
	"fmt"
	"strings"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

type listQuery struct {
	conds []string
	args  []any
}

func (q *listQuery) add(cond string, arg any) {
	q.args = append(q.args, arg)
	q.conds = append(q.conds, fmt.Sprintf(cond, len(q.args)))
}

// buildList appends WHERE, ORDER BY and paging clauses derived from opts to
// a base SELECT. timeCol is the column Since/Until filter on; stateCol may
// be empty when the table has no state.
func buildList(base, timeCol, stateCol string, opts domain.ListOpts) (string, []any) {
	var q listQuery
	if opts.Since != nil {
		q.add(timeCol+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.add(timeCol+" <= $%d", *opts.Until)
	}
	if stateCol != "" && opts.State != "" {
		q.add(stateCol+" = $%d", string(opts.State))
	}

	var sb strings.Builder
	sb.WriteString(base)
	if len(q.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.conds, " AND "))
	}
	sb.WriteString(" ORDER BY " + timeCol + " DESC")

	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(q.args))
	}
	return sb.String(), q.args
}
