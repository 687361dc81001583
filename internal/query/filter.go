// Package query bridges a query digest to a storage engine: it binds session
// variables into the filter, applies the no-group-by fallback, runs the
// search and shapes the resulting tuples into the caller's row layout.
package query

import (
	"github.com/arkilian/cubecore/pkg/types"
)

// FilterOperator is the operator of a filter node.
type FilterOperator string

const (
	OpEQ        FilterOperator = "EQ"
	OpNEQ       FilterOperator = "NEQ"
	OpLT        FilterOperator = "LT"
	OpLTE       FilterOperator = "LTE"
	OpGT        FilterOperator = "GT"
	OpGTE       FilterOperator = "GTE"
	OpIn        FilterOperator = "IN"
	OpNotIn     FilterOperator = "NOT_IN"
	OpIsNull    FilterOperator = "IS_NULL"
	OpIsNotNull FilterOperator = "IS_NOT_NULL"

	OpAnd FilterOperator = "AND"
	OpOr  FilterOperator = "OR"
	OpNot FilterOperator = "NOT"
)

// TupleFilter is a node of the filter predicate tree.
type TupleFilter interface {
	Operator() FilterOperator
	Children() []TupleFilter
}

// CompareFilter compares a column against literal values. Values may also
// come from named session variables, which stay unbound until BindVariable
// supplies them.
type CompareFilter struct {
	Column    types.Column
	Op        FilterOperator
	Values    []string
	Variables []string

	bound map[string]string
}

// NewCompareFilter creates a comparison over literal values.
func NewCompareFilter(col types.Column, op FilterOperator, values ...string) *CompareFilter {
	return &CompareFilter{Column: col, Op: op, Values: values}
}

// NewVariableFilter creates a comparison whose values are session variables.
func NewVariableFilter(col types.Column, op FilterOperator, variables ...string) *CompareFilter {
	return &CompareFilter{Column: col, Op: op, Variables: variables}
}

func (f *CompareFilter) Operator() FilterOperator { return f.Op }
func (f *CompareFilter) Children() []TupleFilter  { return nil }

// BindVariable substitutes value for the named variable. Binding a name the
// filter does not reference, or one already bound, is a no-op.
func (f *CompareFilter) BindVariable(name, value string) {
	if !f.references(name) {
		return
	}
	if _, done := f.bound[name]; done {
		return
	}
	if f.bound == nil {
		f.bound = make(map[string]string)
	}
	f.bound[name] = value
	f.Values = append(f.Values, value)
}

func (f *CompareFilter) references(name string) bool {
	for _, v := range f.Variables {
		if v == name {
			return true
		}
	}
	return false
}

// BoundValue returns the value bound to a variable.
func (f *CompareFilter) BoundValue(name string) (string, bool) {
	v, ok := f.bound[name]
	return v, ok
}

// Unbound returns the variables that have no value yet.
func (f *CompareFilter) Unbound() []string {
	var out []string
	for _, v := range f.Variables {
		if _, ok := f.bound[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// LogicalFilter combines child filters with AND, OR or NOT.
type LogicalFilter struct {
	Op    FilterOperator
	Nodes []TupleFilter
}

// And returns the conjunction of filters.
func And(children ...TupleFilter) *LogicalFilter {
	return &LogicalFilter{Op: OpAnd, Nodes: children}
}

// Or returns the disjunction of filters.
func Or(children ...TupleFilter) *LogicalFilter {
	return &LogicalFilter{Op: OpOr, Nodes: children}
}

// Not negates a filter.
func Not(child TupleFilter) *LogicalFilter {
	return &LogicalFilter{Op: OpNot, Nodes: []TupleFilter{child}}
}

func (f *LogicalFilter) Operator() FilterOperator { return f.Op }
func (f *LogicalFilter) Children() []TupleFilter  { return f.Nodes }

// Walk visits the filter tree depth first, children before their parent.
func Walk(f TupleFilter, fn func(TupleFilter)) {
	if f == nil {
		return
	}
	for _, child := range f.Children() {
		Walk(child, fn)
	}
	fn(f)
}

// FilterColumns returns the columns referenced by the filter, in visit order.
func FilterColumns(f TupleFilter) []types.Column {
	var cols []types.Column
	Walk(f, func(node TupleFilter) {
		if cf, ok := node.(*CompareFilter); ok {
			cols = types.AppendColumn(cols, cf.Column)
		}
	})
	return cols
}

// BindVariables resolves every variable of every comparison in the tree from
// the session. Variables the session cannot resolve stay unbound. It returns
// the number of variables bound.
func BindVariables(f TupleFilter, session Session) int {
	if session == nil {
		return 0
	}
	bound := 0
	Walk(f, func(node TupleFilter) {
		cf, ok := node.(*CompareFilter)
		if !ok {
			return
		}
		for _, name := range cf.Variables {
			if _, done := cf.BoundValue(name); done {
				continue
			}
			if value, ok := session.Variable(name); ok {
				cf.BindVariable(name, value)
				bound++
			}
		}
	})
	return bound
}
