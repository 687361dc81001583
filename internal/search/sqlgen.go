package search

import (
	"fmt"
	"strings"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/query"
)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// whereClause renders a filter tree as a SQL predicate that selects at least
// the rows the filter could match once bound. A comparison whose variables
// are still unbound is left out: it reads as TRUE where it appears positively
// and as FALSE under an odd number of NOTs, so the rendered predicate only
// ever widens.
type whereClause struct {
	sql  strings.Builder
	args []interface{}
}

func renderFilter(f query.TupleFilter) (string, []interface{}, error) {
	if f == nil {
		return "", nil, nil
	}
	var w whereClause
	constrained, err := w.render(f, false)
	if err != nil || !constrained {
		return "", nil, err
	}
	return w.sql.String(), w.args, nil
}

// render writes f and reports whether it constrains anything. When it does
// not, f stands for TRUE, or for FALSE when negated.
func (w *whereClause) render(f query.TupleFilter, negated bool) (bool, error) {
	switch node := f.(type) {
	case *query.CompareFilter:
		return w.compare(node)
	case *query.LogicalFilter:
		return w.logical(node, negated)
	default:
		return false, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed,
			"unsupported filter %T", f)
	}
}

func (w *whereClause) compare(f *query.CompareFilter) (bool, error) {
	col := quoteIdent(f.Column.Name)
	switch f.Op {
	case query.OpIsNull:
		w.sql.WriteString(col + " IS NULL")
		return true, nil
	case query.OpIsNotNull:
		w.sql.WriteString(col + " IS NOT NULL")
		return true, nil
	}

	if len(f.Values) == 0 {
		return false, nil
	}

	switch f.Op {
	case query.OpIn, query.OpNotIn:
		op := " IN ("
		if f.Op == query.OpNotIn {
			op = " NOT IN ("
		}
		w.sql.WriteString(col + op)
		for i, v := range f.Values {
			if i > 0 {
				w.sql.WriteString(", ")
			}
			w.sql.WriteString("?")
			w.args = append(w.args, v)
		}
		w.sql.WriteString(")")
		return true, nil
	}

	sqlOp, ok := comparisonOps[f.Op]
	if !ok {
		return false, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed,
			"unsupported comparison %s", f.Op)
	}
	fmt.Fprintf(&w.sql, "%s %s ?", col, sqlOp)
	w.args = append(w.args, f.Values[0])
	return true, nil
}

var comparisonOps = map[query.FilterOperator]string{
	query.OpEQ:  "=",
	query.OpNEQ: "<>",
	query.OpLT:  "<",
	query.OpLTE: "<=",
	query.OpGT:  ">",
	query.OpGTE: ">=",
}

func (w *whereClause) logical(f *query.LogicalFilter, negated bool) (bool, error) {
	childNegated := negated
	if f.Op == query.OpNot {
		childNegated = !negated
	}
	// TRUE absorbs an OR, FALSE absorbs an AND.
	absorbs := (f.Op == query.OpOr) != negated

	var parts []string
	var args []interface{}
	for _, child := range f.Nodes {
		var sub whereClause
		constrained, err := sub.render(child, childNegated)
		if err != nil {
			return false, err
		}
		if !constrained {
			if absorbs && f.Op != query.OpNot {
				return false, nil
			}
			continue
		}
		parts = append(parts, "("+sub.sql.String()+")")
		args = append(args, sub.args...)
	}
	if len(parts) == 0 {
		return false, nil
	}

	switch f.Op {
	case query.OpAnd:
		w.sql.WriteString(strings.Join(parts, " AND "))
	case query.OpOr:
		w.sql.WriteString(strings.Join(parts, " OR "))
	case query.OpNot:
		w.sql.WriteString("NOT " + parts[0])
	default:
		return false, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed,
			"unsupported logical operator %s", f.Op)
	}
	w.args = append(w.args, args...)
	return true, nil
}

// selectSQL builds the scan statement over the fact table.
func selectSQL(table string, columns []string, where string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(columns) == 0 {
		b.WriteString("*")
	} else {
		for i, c := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(c))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(table))
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	return b.String()
}
