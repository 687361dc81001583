// Package observability tracks how queries use the cube: which columns they
// filter on and which cuboids answer them. The counts show which cuboids are
// worth pre-building and which dimensions deserve an index.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/cubecore/pkg/types"
)

// ColumnUsage holds filter statistics for one column.
type ColumnUsage struct {
	Column    string         `json:"column"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
	Operators map[string]int `json:"operators"` // operator → count
}

// CuboidUsage counts the queries a cuboid answered.
type CuboidUsage struct {
	Cuboid    types.CuboidID `json:"cuboid"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"last_seen"`
}

// QueryUsage is a thread-safe usage tracker. Entries not seen within the
// window are dropped by Prune.
type QueryUsage struct {
	mu      sync.RWMutex
	filters map[string]*ColumnUsage
	cuboids map[types.CuboidID]*CuboidUsage
	window  time.Duration
	now     func() time.Time
}

// NewQueryUsage creates a tracker that forgets entries idle for window.
func NewQueryUsage(window time.Duration) *QueryUsage {
	return &QueryUsage{
		filters: make(map[string]*ColumnUsage),
		cuboids: make(map[types.CuboidID]*CuboidUsage),
		window:  window,
		now:     time.Now,
	}
}

// RecordFilter records a comparison on column with the given operator.
func (u *QueryUsage) RecordFilter(column, operator string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.filters[column]
	if !ok {
		s = &ColumnUsage{Column: column, Operators: make(map[string]int)}
		u.filters[column] = s
	}
	s.Frequency++
	s.LastSeen = u.now()
	s.Operators[operator]++
}

// RecordCuboid records a query answered at cuboid id.
func (u *QueryUsage) RecordCuboid(id types.CuboidID) {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.cuboids[id]
	if !ok {
		s = &CuboidUsage{Cuboid: id}
		u.cuboids[id] = s
	}
	s.Frequency++
	s.LastSeen = u.now()
}

// TopFilters returns copies of the n most filtered columns, most frequent
// first. Ties are ordered by column name.
func (u *QueryUsage) TopFilters(n int) []ColumnUsage {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]ColumnUsage, 0, len(u.filters))
	for _, s := range u.filters {
		cp := *s
		cp.Operators = make(map[string]int, len(s.Operators))
		for op, c := range s.Operators {
			cp.Operators[op] = c
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Column < out[j].Column
	})
	return truncate(out, n)
}

// TopCuboids returns the n most used cuboids, most frequent first. Ties are
// ordered by cuboid id.
func (u *QueryUsage) TopCuboids(n int) []CuboidUsage {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]CuboidUsage, 0, len(u.cuboids))
	for _, s := range u.cuboids {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Cuboid < out[j].Cuboid
	})
	return truncate(out, n)
}

// Prune removes entries last seen before now minus the window.
func (u *QueryUsage) Prune() {
	u.mu.Lock()
	defer u.mu.Unlock()

	threshold := u.now().Add(-u.window)
	for col, s := range u.filters {
		if s.LastSeen.Before(threshold) {
			delete(u.filters, col)
		}
	}
	for id, s := range u.cuboids {
		if s.LastSeen.Before(threshold) {
			delete(u.cuboids, id)
		}
	}
}

func truncate[T any](s []T, n int) []T {
	if n <= 0 {
		return s[:0]
	}
	if n < len(s) {
		return s[:n]
	}
	return s
}
