package query

import (
	"github.com/arkilian/cubecore/pkg/types"
)

// Realization describes the cube a query is answered from.
type Realization interface {
	Name() string
	FactTable() string
	// AllColumns returns every column the cube covers, dimensions first.
	AllColumns() []types.Column
	IsDimension(col types.Column) bool
	Measures() []types.MeasureDesc
}

// CubeDesc is a static Realization.
type CubeDesc struct {
	name       string
	factTable  string
	columns    []types.Column
	dimensions []types.Column
	measures   []types.MeasureDesc
}

// NewCubeDesc creates a cube description. Dimensions missing from columns
// are added to it.
func NewCubeDesc(name, factTable string, columns, dimensions []types.Column, measures []types.MeasureDesc) *CubeDesc {
	all := make([]types.Column, 0, len(columns)+len(dimensions))
	for _, d := range dimensions {
		all = types.AppendColumn(all, d)
	}
	for _, c := range columns {
		all = types.AppendColumn(all, c)
	}
	return &CubeDesc{
		name:       name,
		factTable:  factTable,
		columns:    all,
		dimensions: dimensions,
		measures:   measures,
	}
}

func (c *CubeDesc) Name() string                  { return c.name }
func (c *CubeDesc) FactTable() string             { return c.factTable }
func (c *CubeDesc) AllColumns() []types.Column    { return c.columns }
func (c *CubeDesc) Dimensions() []types.Column    { return c.dimensions }
func (c *CubeDesc) Measures() []types.MeasureDesc { return c.measures }

func (c *CubeDesc) IsDimension(col types.Column) bool {
	return types.ContainsColumn(c.dimensions, col)
}

// FindMeasure returns the cube measure computing fn.
func FindMeasure(r Realization, fn types.FunctionDesc) (types.MeasureDesc, bool) {
	for _, m := range r.Measures() {
		if m.Function.Equal(fn) {
			return m, true
		}
	}
	return types.MeasureDesc{}, false
}
