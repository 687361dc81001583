package cuboid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// factRows builds rows over three dimensions with 10, 20 and 5 distinct
// values respectively.
func factRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{
			fmt.Sprintf("d%d", i%10),
			fmt.Sprintf("s%d", i%20),
			fmt.Sprintf("c%d", i%5),
		}
	}
	return rows
}

func partition(rows [][]string, n int) []RowSource {
	parts := make([]RowSource, n)
	for i := range parts {
		var part SliceSource
		for j := i; j < len(rows); j += n {
			part = append(part, rows[j])
		}
		parts[i] = part
	}
	return parts
}

func allCuboids(t *testing.T, n int) []types.CuboidID {
	t.Helper()
	ids, err := AllCuboids(n, DefaultMaxCuboids)
	require.NoError(t, err)
	return ids
}

func TestAllCuboids(t *testing.T) {
	assert.Equal(t, []types.CuboidID{1, 2, 3}, allCuboids(t, 2))
	assert.Len(t, allCuboids(t, 4), 15)
	assert.Len(t, allCuboids(t, 12), 4095)
}

func TestAllCuboids_RejectsWideCubes(t *testing.T) {
	for _, n := range []int{13, 63, 64, 65} {
		ids, err := AllCuboids(n, DefaultMaxCuboids)
		require.Error(t, err, "dimensions=%d", n)
		assert.Nil(t, ids)
		assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryConfig, cerrors.CodeTooManyCuboids), "dimensions=%d: %v", n, err)
	}

	ids, err := AllCuboids(3, 7)
	require.NoError(t, err)
	assert.Len(t, ids, 7)
	_, err = AllCuboids(3, 6)
	assert.Error(t, err)
}

func TestNewCollector_RejectsTooManyCuboids(t *testing.T) {
	_, err := NewCollector([]types.CuboidID{1, 2, 3}, CollectorOptions{Precision: 8, MaxCuboids: 2})
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryConfig, cerrors.CodeTooManyCuboids), "got %v", err)
}

func TestCollector_Estimates(t *testing.T) {
	c, err := NewCollector(allCuboids(t, 3), CollectorOptions{Precision: 12, Concurrency: 2})
	require.NoError(t, err)

	res, err := c.Collect(context.Background(), partition(factRows(1000), 4))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.SampleRowCount)

	stats := res.Statistics(12)
	est := func(id types.CuboidID) uint64 {
		v, ok := stats.Estimate(id)
		require.True(t, ok)
		return v
	}
	assert.InDelta(t, 10, est(types.CuboidOf(0)), 1)
	assert.InDelta(t, 20, est(types.CuboidOf(1)), 1)
	assert.InDelta(t, 5, est(types.CuboidOf(2)), 1)
	// lcm(10, 20) = 20 combinations
	assert.InDelta(t, 20, est(types.CuboidOf(0, 1)), 1)
	// lcm(10, 20, 5) = 20 combinations
	assert.InDelta(t, 20, est(types.BaseCuboid(3)), 1)
}

func TestCollector_PartitioningDoesNotMatter(t *testing.T) {
	rows := factRows(777)
	opts := CollectorOptions{Precision: 10, Concurrency: 3}

	single, err := NewCollector(allCuboids(t, 3), opts)
	require.NoError(t, err)
	whole, err := single.Collect(context.Background(), []RowSource{SliceSource(rows)})
	require.NoError(t, err)

	for _, n := range []int{2, 5, 13} {
		res, err := single.Collect(context.Background(), partition(rows, n))
		require.NoError(t, err)
		assert.Equal(t, whole.SampleRowCount, res.SampleRowCount)
		for id, counter := range whole.Estimators {
			assert.True(t, counter.Equal(res.Estimators[id]), "partitions=%d cuboid=%d", n, id)
		}
	}
}

func TestCollector_Sampling(t *testing.T) {
	c, err := NewCollector([]types.CuboidID{1}, CollectorOptions{Precision: 8, SamplingPercent: 10})
	require.NoError(t, err)
	res, err := c.Collect(context.Background(), []RowSource{SliceSource(factRows(1000))})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.SampleRowCount)
}

type failingSource struct{ err error }

func (f failingSource) Scan(context.Context, func([]string) error) error { return f.err }

func TestCollector_PropagatesScanError(t *testing.T) {
	boom := errors.New("boom")
	c, err := NewCollector(allCuboids(t, 2), CollectorOptions{Precision: 8, Concurrency: 2})
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), []RowSource{SliceSource(factRows(10)), failingSource{boom}})
	assert.ErrorIs(t, err, boom)
}

func TestNewCollector_InvalidPrecision(t *testing.T) {
	_, err := NewCollector(allCuboids(t, 2), CollectorOptions{Precision: 30})
	assert.Error(t, err)
}

func TestCollector_EmptyInput(t *testing.T) {
	c, err := NewCollector(allCuboids(t, 2), CollectorOptions{Precision: hllc.MinPrecision})
	require.NoError(t, err)
	res, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Estimators, 3)
	for _, counter := range res.Estimators {
		assert.Equal(t, uint64(0), counter.Estimate())
	}
}
