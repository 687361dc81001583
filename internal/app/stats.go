package app

import (
	"context"
	"fmt"

	"github.com/arkilian/cubecore/internal/config"
	"github.com/arkilian/cubecore/internal/cuboid"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/internal/search"
)

// BuildStatistics scans the cube's dimensions from the fact table, collects
// a sketch for every cuboid and publishes the artifact at
// cfg.Statistics.ArtifactPath.
func BuildStatistics(ctx context.Context, cfg *config.Config, partitions int) (*cuboid.WriteResult, error) {
	logger := logging.Component("cube-stats")

	dims := cfg.Cube.Dimensions
	ids, err := cuboid.AllCuboids(len(dims), cfg.Statistics.MaxEntries)
	if err != nil {
		return nil, err
	}
	collector, err := cuboid.NewCollector(ids, cuboid.CollectorOptions{
		Precision:   cfg.Statistics.Precision,
		Concurrency: cfg.Statistics.CollectConcurrency,
		MaxCuboids:  cfg.Statistics.MaxEntries,
	})
	if err != nil {
		return nil, err
	}

	engine, err := search.Open(cfg.Query.SQLitePath, search.Options{Logger: &logger})
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	if partitions <= 0 {
		partitions = cfg.Statistics.CollectConcurrency
	}

	logger.Info().
		Str("table", cfg.Cube.FactTable).
		Strs("dimensions", dims).
		Int("partitions", partitions).
		Msg("collecting cuboid statistics")

	result, err := collector.Collect(ctx, search.PartitionedSources(engine.DB(), cfg.Cube.FactTable, dims, partitions))
	if err != nil {
		return nil, fmt.Errorf("collect statistics: %w", err)
	}

	objects, err := NewObjectStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return NewStatisticsStore(objects, cfg.Statistics, &logger).
		WriteCuboidStatistics(ctx, cfg.Statistics.ArtifactPath, result.Estimators, result.SampleRowCount)
}

// LoadStatistics reads the published artifact back through object storage.
func LoadStatistics(ctx context.Context, cfg *config.Config) (*cuboid.Statistics, error) {
	objects, err := NewObjectStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger := logging.Component("cube-stats")
	return NewStatisticsStore(objects, cfg.Statistics, &logger).ReadCuboidStatistics(ctx, cfg.Statistics.ArtifactPath)
}
