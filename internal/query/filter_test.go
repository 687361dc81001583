package query

import (
	"testing"

	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	colRegion = types.NewColumn("SALES", "REGION")
	colYear   = types.NewColumn("SALES", "YEAR")
	colPrice  = types.NewColumn("SALES", "PRICE")
)

func TestWalk_ChildrenBeforeParent(t *testing.T) {
	a := NewCompareFilter(colRegion, OpEQ, "EU")
	b := NewCompareFilter(colYear, OpGT, "2020")
	c := NewCompareFilter(colPrice, OpLT, "10")
	inner := Or(b, c)
	root := And(a, inner)

	var visited []TupleFilter
	Walk(root, func(f TupleFilter) { visited = append(visited, f) })

	require.Len(t, visited, 5)
	assert.Same(t, a, visited[0])
	assert.Same(t, b, visited[1])
	assert.Same(t, c, visited[2])
	assert.Same(t, inner, visited[3])
	assert.Same(t, root, visited[4])
}

func TestWalk_NilFilter(t *testing.T) {
	calls := 0
	Walk(nil, func(TupleFilter) { calls++ })
	assert.Zero(t, calls)
}

func TestFilterColumns_Deduplicates(t *testing.T) {
	root := And(
		NewCompareFilter(colRegion, OpEQ, "EU"),
		Not(NewCompareFilter(colRegion, OpEQ, "US")),
		NewCompareFilter(colYear, OpIsNotNull),
	)
	assert.Equal(t, []types.Column{colRegion, colYear}, FilterColumns(root))
}

func TestCompareFilter_BindVariable(t *testing.T) {
	f := NewVariableFilter(colRegion, OpIn, "r1", "r2")

	f.BindVariable("r1", "EU")
	f.BindVariable("other", "XX")
	f.BindVariable("r1", "US")

	assert.Equal(t, []string{"EU"}, f.Values)
	assert.Equal(t, []string{"r2"}, f.Unbound())

	v, ok := f.BoundValue("r1")
	assert.True(t, ok)
	assert.Equal(t, "EU", v)
}

func TestBindVariables_LeavesUnresolvedUnbound(t *testing.T) {
	region := NewVariableFilter(colRegion, OpEQ, "region")
	year := NewVariableFilter(colYear, OpEQ, "year")
	root := And(region, Not(year))

	session := MapSession{Variables: map[string]string{"region": "EU"}}
	n := BindVariables(root, session)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"EU"}, region.Values)
	assert.Empty(t, year.Values)
	assert.Equal(t, []string{"year"}, year.Unbound())
}

func TestBindVariables_NilSession(t *testing.T) {
	f := NewVariableFilter(colRegion, OpEQ, "region")
	assert.Zero(t, BindVariables(f, nil))
	assert.Empty(t, f.Values)
}
