// Package cuboid persists and reads per-cuboid cardinality statistics and
// uses them to pick the cuboid that answers a query most cheaply.
package cuboid

import (
	"sort"

	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/pkg/types"
)

// Statistics maps cuboids to the distinct-count sketch of their rows, as
// collected over a sample of the fact table. Statistics read from an
// artifact must not be mutated.
type Statistics struct {
	Precision      int
	SampleRowCount int64
	Estimators     map[types.CuboidID]*hllc.Counter

	// Degraded is set when the writer dropped entries to honour its cap.
	// OriginalEntries is the entry count before dropping.
	Degraded        bool
	OriginalEntries int
}

// NewStatistics creates empty statistics.
func NewStatistics(precision int) *Statistics {
	return &Statistics{
		Precision:  precision,
		Estimators: make(map[types.CuboidID]*hllc.Counter),
	}
}

// Len returns the number of cuboid entries.
func (s *Statistics) Len() int {
	return len(s.Estimators)
}

// Estimate returns the estimated row count of a cuboid.
func (s *Statistics) Estimate(id types.CuboidID) (uint64, bool) {
	if s == nil {
		return 0, false
	}
	c, ok := s.Estimators[id]
	if !ok {
		return 0, false
	}
	return c.Estimate(), true
}

// CuboidIDs returns the cuboid ids in ascending order.
func (s *Statistics) CuboidIDs() []types.CuboidID {
	ids := make([]types.CuboidID, 0, len(s.Estimators))
	for id := range s.Estimators {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Estimates returns every cuboid's estimated row count.
func (s *Statistics) Estimates() map[types.CuboidID]uint64 {
	out := make(map[types.CuboidID]uint64, len(s.Estimators))
	for id, c := range s.Estimators {
		out[id] = c.Estimate()
	}
	return out
}

// SizeBytes approximates the in-memory footprint, used as the cache cost.
func (s *Statistics) SizeBytes() int64 {
	return int64(len(s.Estimators)) * int64(1<<uint(s.Precision)+16)
}
