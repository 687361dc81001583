package cuboid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/internal/storage"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/dgraph-io/ristretto"
)

// CachedReader is a read-through cache of decoded statistics keyed by
// artifact path. Writes through the reader invalidate the cached entry.
type CachedReader struct {
	store *Store
	cache *ristretto.Cache
}

// NewCachedReader wraps store with a cache bounded to maxCost bytes of
// decoded statistics.
func NewCachedReader(store *Store, maxCost int64) (*CachedReader, error) {
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics cache: %w", err)
	}
	return &CachedReader{store: store, cache: cache}, nil
}

// Read returns the statistics at path, from cache when present.
func (r *CachedReader) Read(ctx context.Context, path string) (*Statistics, error) {
	if v, ok := r.cache.Get(path); ok {
		return v.(*Statistics), nil
	}
	stats, err := r.store.ReadCuboidStatistics(ctx, path)
	if err != nil {
		return nil, err
	}
	r.cache.Set(path, stats, stats.SizeBytes())
	return stats, nil
}

// Write publishes statistics through the store and drops the cached copy.
func (r *CachedReader) Write(ctx context.Context, dest string, estimators map[types.CuboidID]*hllc.Counter, sampleRowCount int64) (*WriteResult, error) {
	res, err := r.store.WriteCuboidStatistics(ctx, dest, estimators, sampleRowCount)
	r.Invalidate(dest)
	return res, err
}

// Invalidate drops the cached statistics of path.
func (r *CachedReader) Invalidate(path string) {
	r.cache.Del(path)
}

// Warm downloads and decodes several artifacts in parallel and caches them.
// It returns the number cached; failures are joined into the error.
func (r *CachedReader) Warm(ctx context.Context, paths []string, concurrency int) (int, error) {
	dir := filepath.Join(r.store.opts.WorkDir, "prefetch")
	downloader := storage.NewBatchDownloader(r.store.storage, concurrency, dir)
	result, err := downloader.Download(ctx, paths, true)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, p := range paths {
		if derr, failed := result.Errors[p]; failed {
			errs = append(errs, fmt.Errorf("%s: %w", p, derr))
		}
	}

	cached := 0
	for p, local := range result.LocalPaths {
		stats, err := ReadFile(local)
		os.Remove(local)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		r.cache.Set(p, stats, stats.SizeBytes())
		cached++
	}
	r.cache.Wait()
	return cached, errors.Join(errs...)
}

// Close releases the cache.
func (r *CachedReader) Close() {
	r.cache.Close()
}
