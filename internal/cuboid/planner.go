package cuboid

import (
	"math"

	"github.com/arkilian/cubecore/pkg/types"
)

// rowsOf returns the estimated row count of a cuboid. Without an estimate the
// cuboid is assumed to be as large as the sample, or unbounded without
// statistics at all.
func rowsOf(stats *Statistics, id types.CuboidID) uint64 {
	if est, ok := stats.Estimate(id); ok {
		return est
	}
	if stats != nil && stats.SampleRowCount > 0 {
		return uint64(stats.SampleRowCount)
	}
	return math.MaxUint64
}

// SelectCuboid picks, among candidates covering requested, the one with the
// fewest estimated rows. Ties go to fewer dimensions, then the smaller id.
// Missing statistics are not an error; affected candidates are ranked as
// worst case. ok is false when no candidate covers requested.
func SelectCuboid(stats *Statistics, requested types.CuboidID, candidates []types.CuboidID) (best types.CuboidID, ok bool) {
	var bestRows uint64
	for _, id := range candidates {
		if !id.Covers(requested) {
			continue
		}
		rows := rowsOf(stats, id)
		if !ok || rows < bestRows ||
			(rows == bestRows && (id.Dimensions() < best.Dimensions() ||
				(id.Dimensions() == best.Dimensions() && id < best))) {
			best, bestRows, ok = id, rows, true
		}
	}
	return best, ok
}

// EstimateMemoryBytes sizes the buffer needed to hold a cuboid's rows.
// The result saturates instead of overflowing.
func EstimateMemoryBytes(stats *Statistics, id types.CuboidID, bytesPerRow int64) int64 {
	if bytesPerRow <= 0 {
		return 0
	}
	rows := rowsOf(stats, id)
	if rows > uint64(math.MaxInt64/bytesPerRow) {
		return math.MaxInt64
	}
	return int64(rows) * bytesPerRow
}
