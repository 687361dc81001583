package cuboid

import (
	"context"
	"strings"
	"sync"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/pkg/types"
	"golang.org/x/sync/errgroup"
)

// RowSource yields the dimension values of fact rows, one slice per row in
// cube dimension order. The slice passed to fn may be reused between calls.
type RowSource interface {
	Scan(ctx context.Context, fn func(row []string) error) error
}

// SliceSource is an in-memory RowSource.
type SliceSource [][]string

// Scan calls fn for every row.
func (s SliceSource) Scan(ctx context.Context, fn func(row []string) error) error {
	for _, row := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Precision int
	// Concurrency bounds the partitions scanned at once.
	Concurrency int
	// SamplingPercent in [1,100] keeps that share of each partition's rows.
	// Zero means 100.
	SamplingPercent int
	// MaxCuboids bounds the cuboids collected. Every partition holds one
	// counter per cuboid, so this caps collection memory at roughly
	// (Concurrency+1) * MaxCuboids * 2^Precision bytes. Zero means
	// DefaultMaxCuboids.
	MaxCuboids int
}

// DefaultMaxCuboids is the cuboid bound used when CollectorOptions leaves
// MaxCuboids unset.
const DefaultMaxCuboids = 4096

// Collector builds cuboid statistics from partitioned fact rows. Each
// partition is scanned into its own estimators, and partition results are
// merged, so the outcome does not depend on partitioning or scheduling.
type Collector struct {
	cuboids []types.CuboidID
	opts    CollectorOptions
}

// NewCollector creates a collector for the given cuboids.
func NewCollector(cuboids []types.CuboidID, opts CollectorOptions) (*Collector, error) {
	if opts.Precision == 0 {
		opts.Precision = hllc.DefaultPrecision
	}
	if err := hllc.ValidatePrecision(opts.Precision); err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SamplingPercent <= 0 || opts.SamplingPercent > 100 {
		opts.SamplingPercent = 100
	}
	if opts.MaxCuboids <= 0 {
		opts.MaxCuboids = DefaultMaxCuboids
	}
	if len(cuboids) > opts.MaxCuboids {
		return nil, tooManyCuboids(uint64(len(cuboids)), opts.MaxCuboids)
	}
	return &Collector{cuboids: cuboids, opts: opts}, nil
}

// AllCuboids returns every non-empty cuboid of a cube with n dimensions.
// It fails with CONFIG/TOO_MANY_CUBOIDS when there are more than limit of
// them (2^n - 1 > limit), before anything is allocated.
func AllCuboids(n, limit int) ([]types.CuboidID, error) {
	if n < 0 || n > 64 {
		return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeTooManyCuboids,
			"%d dimensions out of range [0, 64]", n)
	}
	base := types.BaseCuboid(n)
	if limit < 0 || uint64(base) > uint64(limit) {
		return nil, tooManyCuboids(uint64(base), limit)
	}
	out := make([]types.CuboidID, 0, int(base))
	for id := types.CuboidID(1); id <= base; id++ {
		out = append(out, id)
	}
	return out, nil
}

func tooManyCuboids(n uint64, limit int) error {
	return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeTooManyCuboids,
		"%d cuboids exceed the collection limit of %d", n, limit)
}

// CollectResult is the merged outcome of a collection pass.
type CollectResult struct {
	Estimators     map[types.CuboidID]*hllc.Counter
	SampleRowCount int64
}

// Statistics returns the result as Statistics of the given precision.
func (r *CollectResult) Statistics(precision int) *Statistics {
	return &Statistics{
		Precision:       precision,
		SampleRowCount:  r.SampleRowCount,
		Estimators:      r.Estimators,
		OriginalEntries: len(r.Estimators),
	}
}

// Collect scans all partitions and merges their estimators.
func (c *Collector) Collect(ctx context.Context, partitions []RowSource) (*CollectResult, error) {
	merged := &CollectResult{Estimators: c.newEstimators()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, part := range partitions {
		part := part
		g.Go(func() error {
			local, rows, err := c.scan(gctx, part)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			merged.SampleRowCount += rows
			for id, counter := range local {
				if err := merged.Estimators[id].Merge(counter); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Collector) newEstimators() map[types.CuboidID]*hllc.Counter {
	m := make(map[types.CuboidID]*hllc.Counter, len(c.cuboids))
	for _, id := range c.cuboids {
		m[id] = hllc.MustNew(c.opts.Precision)
	}
	return m
}

// scan ingests one partition. Each sampled row contributes, for every
// cuboid, the key made of that cuboid's dimension values.
func (c *Collector) scan(ctx context.Context, part RowSource) (map[types.CuboidID]*hllc.Counter, int64, error) {
	local := c.newEstimators()
	counters := make([]*hllc.Counter, len(c.cuboids))
	for i, id := range c.cuboids {
		counters[i] = local[id]
	}

	var (
		seen    int64
		sampled int64
		key     strings.Builder
	)
	err := part.Scan(ctx, func(row []string) error {
		seen++
		if c.opts.SamplingPercent < 100 && (seen-1)%100 >= int64(c.opts.SamplingPercent) {
			return nil
		}
		sampled++
		for i, id := range c.cuboids {
			key.Reset()
			for p, v := range row {
				if id.Has(p) {
					key.WriteString(v)
					key.WriteByte(0)
				}
			}
			counters[i].AddString(key.String())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return local, sampled, nil
}
