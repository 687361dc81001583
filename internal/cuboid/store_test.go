package cuboid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/internal/storage"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts StoreOptions) (*Store, *storage.LocalStorage) {
	t.Helper()
	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	nop := logging.Nop()
	opts.Logger = &nop
	return NewStore(objects, opts), objects
}

// counterWith returns a counter holding n distinct values.
func counterWith(precision, n int, prefix string) *hllc.Counter {
	c := hllc.MustNew(precision)
	for i := 0; i < n; i++ {
		c.AddString(fmt.Sprintf("%s-%d", prefix, i))
	}
	return c
}

func assertSameEstimators(t *testing.T, want, got map[types.CuboidID]*hllc.Counter) {
	t.Helper()
	require.Len(t, got, len(want))
	for id, c := range want {
		require.Contains(t, got, id)
		assert.True(t, c.Equal(got[id]), "cuboid %d registers differ", id)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			store, _ := newTestStore(t, StoreOptions{Precision: 10, MaxEntries: 100, Compress: compress})
			ctx := context.Background()

			estimators := map[types.CuboidID]*hllc.Counter{
				1: counterWith(10, 5, "a"),
				2: counterWith(10, 50, "b"),
				3: counterWith(10, 500, "ab"),
			}
			res, err := store.WriteCuboidStatistics(ctx, "sales/cuboid_statistics.seq", estimators, 1000)
			require.NoError(t, err)
			assert.False(t, res.Degraded)
			assert.Equal(t, 3, res.Entries)

			stats, err := store.ReadCuboidStatistics(ctx, "sales/cuboid_statistics.seq")
			require.NoError(t, err)
			assert.Equal(t, 10, stats.Precision)
			assert.Equal(t, int64(1000), stats.SampleRowCount)
			assert.False(t, stats.Degraded)
			assert.Equal(t, 3, stats.OriginalEntries)
			assertSameEstimators(t, estimators, stats.Estimators)
		})
	}
}

func TestStore_EmptyMapWithSample(t *testing.T) {
	store, _ := newTestStore(t, StoreOptions{Precision: 12, MaxEntries: 10})
	ctx := context.Background()

	_, err := store.WriteCuboidStatistics(ctx, "empty.seq", map[types.CuboidID]*hllc.Counter{}, 100)
	require.NoError(t, err)

	stats, err := store.ReadCuboidStatistics(ctx, "empty.seq")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Len())
	assert.Equal(t, int64(100), stats.SampleRowCount)
	assert.Equal(t, 12, stats.Precision)
}

func TestStore_CapDegradation(t *testing.T) {
	store, _ := newTestStore(t, StoreOptions{Precision: 10, MaxEntries: 2, Compress: true})
	ctx := context.Background()

	estimators := map[types.CuboidID]*hllc.Counter{
		1: counterWith(10, 10, "x"),
		2: counterWith(10, 200, "y"),
		4: counterWith(10, 0, "z"),
		7: counterWith(10, 100, "w"),
	}
	res, err := store.WriteCuboidStatistics(ctx, "capped.seq", estimators, 10)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, 4, res.OriginalEntries)
	assert.Len(t, estimators, 4, "input must not be modified")

	stats, err := store.ReadCuboidStatistics(ctx, "capped.seq")
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	assert.Equal(t, 4, stats.OriginalEntries)
	assert.Equal(t, []types.CuboidID{2, 7}, stats.CuboidIDs(), "highest cardinality entries are kept")
}

func TestDegrade_TieBreaksOnSmallerID(t *testing.T) {
	estimators := map[types.CuboidID]*hllc.Counter{
		9: hllc.MustNew(8),
		3: hllc.MustNew(8),
		5: hllc.MustNew(8),
	}
	kept := degrade(estimators, 2)
	assert.Contains(t, kept, types.CuboidID(3))
	assert.Contains(t, kept, types.CuboidID(5))
	assert.NotContains(t, kept, types.CuboidID(9))
}

func TestStore_Overwrite(t *testing.T) {
	store, _ := newTestStore(t, StoreOptions{Precision: 8, MaxEntries: 10})
	ctx := context.Background()

	_, err := store.WriteCuboidStatistics(ctx, "s.seq", map[types.CuboidID]*hllc.Counter{1: counterWith(8, 3, "a")}, 3)
	require.NoError(t, err)
	_, err = store.WriteCuboidStatistics(ctx, "s.seq", map[types.CuboidID]*hllc.Counter{2: counterWith(8, 4, "b")}, 4)
	require.NoError(t, err)

	stats, err := store.ReadCuboidStatistics(ctx, "s.seq")
	require.NoError(t, err)
	assert.Equal(t, []types.CuboidID{2}, stats.CuboidIDs())
	assert.Equal(t, int64(4), stats.SampleRowCount)
}

func TestStore_PrecisionMismatch(t *testing.T) {
	store, _ := newTestStore(t, StoreOptions{MaxEntries: 10})
	_, err := store.WriteCuboidStatistics(context.Background(), "bad.seq", map[types.CuboidID]*hllc.Counter{
		1: hllc.MustNew(8),
		2: hllc.MustNew(10),
	}, 0)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch))
}

func TestStore_NotFound(t *testing.T) {
	store, _ := newTestStore(t, StoreOptions{})
	_, err := store.ReadCuboidStatistics(context.Background(), "missing.seq")
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryStatistics, cerrors.CodeStatsNotFound))
}

func TestStore_Corrupt(t *testing.T) {
	store, objects := newTestStore(t, StoreOptions{Precision: 8, MaxEntries: 10})
	ctx := context.Background()

	_, err := store.WriteCuboidStatistics(ctx, "ok.seq", map[types.CuboidID]*hllc.Counter{1: counterWith(8, 3, "a")}, 3)
	require.NoError(t, err)
	good, err := os.ReadFile(filepath.Join(objects.BasePath(), "ok.seq"))
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"short", good[:10]},
		{"magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"version", mutate(func(b []byte) []byte { b[4] = 9; return b })},
		{"precision", mutate(func(b []byte) []byte { b[6] = 30; return b })},
		{"precision disagrees with body", mutate(func(b []byte) []byte { b[6] = 9; return b })},
		{"truncated body", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte(nil), good...), 0)},
		{"entry count above original", mutate(func(b []byte) []byte { b[20] = 5; return b })},
		{"degraded flag without dropped entries", mutate(func(b []byte) []byte { b[5] |= flagDegraded; return b })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "in.bin")
			require.NoError(t, os.WriteFile(path, tt.data, 0644))
			require.NoError(t, objects.Upload(ctx, path, "bad.seq"))

			_, err := store.ReadCuboidStatistics(ctx, "bad.seq")
			require.Error(t, err)
			assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryStatistics, cerrors.CodeStatsCorrupt), "got %v", err)
		})
	}
}

func TestEncode_UnsortedInputIsSorted(t *testing.T) {
	stats := NewStatistics(6)
	for _, id := range []types.CuboidID{40, 3, 17} {
		stats.Estimators[id] = counterWith(6, int(id), "v")
	}
	data, err := Encode(stats, false)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []types.CuboidID{3, 17, 40}, back.CuboidIDs())
	assertSameEstimators(t, stats.Estimators, back.Estimators)
}
