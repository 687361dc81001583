package search

import (
	"context"
	"testing"

	"github.com/arkilian/cubecore/internal/query"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFilter_UnboundVariablesOnlyWiden(t *testing.T) {
	region := func() *query.CompareFilter { return query.NewVariableFilter(colRegion, query.OpEQ, "r") }
	year := func() *query.CompareFilter { return query.NewCompareFilter(colYear, query.OpEQ, "2021") }

	tests := []struct {
		name   string
		filter query.TupleFilter
		count  int64
	}{
		{"unbound alone", region(), 5},
		{"not unbound", query.Not(region()), 5},
		{"and drops unbound", query.And(region(), year()), 2},
		{"or with unbound", query.Or(region(), year()), 5},
		{"not and with unbound", query.Not(query.And(region(), year())), 5},
		{"not or drops unbound", query.Not(query.Or(region(), year())), 3},
		{"double not", query.Not(query.Not(query.And(region(), year()))), 2},
		{"nested and under not", query.Not(query.Or(query.And(region(), year()), query.NewCompareFilter(colYear, query.OpEQ, "2020"))), 4},
	}

	e := newEngine(t, createFactDB(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &query.Digest{
				FactTable:    fact,
				Filter:       tt.filter,
				Aggregations: []types.FunctionDesc{countAll()},
			}
			it, err := e.Search(context.Background(), nil, d)
			require.NoError(t, err)
			assert.Equal(t, [][]interface{}{{tt.count}}, drain(t, it))
		})
	}
}

func TestRenderFilter_NotOfUnboundRendersNothing(t *testing.T) {
	where, args, err := renderFilter(query.Not(query.And(
		query.NewVariableFilter(colRegion, query.OpEQ, "r"),
		query.NewCompareFilter(colYear, query.OpEQ, "2021"),
	)))
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}
