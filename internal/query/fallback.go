package query

import (
	"github.com/arkilian/cubecore/internal/measure"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/rs/zerolog"
)

// FallbackResult records what ApplyNoGroupByFallback did to a digest.
type FallbackResult struct {
	Applied   bool
	SelectAll bool
	// Unsummed lists metric columns for which the cube has no SUM measure.
	// Their output values are not meaningful sums.
	Unsummed []types.Column
}

// ApplyNoGroupByFallback rewrites a digest that has neither grouping nor
// metric columns so that it can be answered from pre-aggregated data.
// Fact-table dimensions are grouped by; other requested fact-table columns
// become metrics summed with the cube's SUM measure if one exists. A column
// without a SUM measure is still added as a metric and logged as a warning.
func ApplyNoGroupByFallback(d *Digest, r Realization, logger zerolog.Logger) FallbackResult {
	if d.HasAggregation() {
		return FallbackResult{}
	}

	logger.Info().Msg("No group by and aggregation found in this query, will hack some result for better look of output...")

	res := FallbackResult{Applied: true}
	res.SelectAll = len(d.AllColumns) == 0 || types.SameColumnSet(d.AllColumns, d.FilterColumns)

	factTable := d.FactTable
	if factTable == "" {
		factTable = r.FactTable()
	}
	for _, col := range r.AllColumns() {
		if col.Table != factTable {
			continue
		}
		if r.IsDimension(col) || res.SelectAll {
			d.AllColumns = types.AppendColumn(d.AllColumns, col)
		}
	}

	for _, col := range d.AllColumns {
		if r.IsDimension(col) {
			d.GroupByColumns = types.AppendColumn(d.GroupByColumns, col)
			continue
		}
		sum := types.NewColumnFunction(measure.FuncSum, col.Name)
		if m, ok := FindMeasure(r, sum); ok {
			sum.ReturnType = m.Function.ReturnType
			sum.Alias = col.Name
			d.Aggregations = append(d.Aggregations, sum)
		} else {
			logger.Warn().Str("column", col.String()).
				Msgf("SUM is not defined for measure column %s, output will be meaningless.", col)
			res.Unsummed = append(res.Unsummed, col)
		}
		d.MetricColumns = types.AppendColumn(d.MetricColumns, col)
	}
	return res
}
