package hllc

import (
	"fmt"
	"math"
	"testing"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relErr(estimate uint64, actual int) float64 {
	return math.Abs(float64(estimate)-float64(actual)) / float64(actual)
}

func TestNew_PrecisionBounds(t *testing.T) {
	for _, p := range []int{MinPrecision, DefaultPrecision, MaxPrecision} {
		c, err := New(p)
		require.NoError(t, err)
		assert.Equal(t, p, c.Precision())
		assert.Len(t, c.Registers(), 1<<uint(p))
	}

	for _, p := range []int{0, 3, 19, 64} {
		_, err := New(p)
		require.Error(t, err)
		assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodeInvalidPrecision))
	}
}

func TestEstimate_Empty(t *testing.T) {
	c := MustNew(DefaultPrecision)
	assert.Equal(t, uint64(0), c.Estimate())
}

func TestEstimate_Accuracy(t *testing.T) {
	for _, n := range []int{1000, 100000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			c := MustNew(DefaultPrecision)
			for i := 0; i < n; i++ {
				c.AddString(fmt.Sprintf("value-%d", i))
			}
			assert.LessOrEqual(t, relErr(c.Estimate(), n), 0.05, "estimate %d for %d distinct", c.Estimate(), n)
		})
	}
}

func TestAdd_DuplicatesDoNotChangeEstimate(t *testing.T) {
	c := MustNew(12)
	for i := 0; i < 500; i++ {
		c.AddString(fmt.Sprintf("k%d", i))
	}
	before := c.Registers()

	for round := 0; round < 5; round++ {
		for i := 0; i < 500; i++ {
			c.AddString(fmt.Sprintf("k%d", i))
		}
	}
	assert.Equal(t, before, c.Registers())
}

func TestAddHash_ZeroHashHitsMaxRank(t *testing.T) {
	c := MustNew(MinPrecision)
	c.AddHash(0)
	assert.Equal(t, uint8(maxRank(MinPrecision)), c.Registers()[0])
}

func TestMerge_EqualsUnion(t *testing.T) {
	a := MustNew(10)
	b := MustNew(10)
	union := MustNew(10)

	for i := 0; i < 2000; i++ {
		v := fmt.Sprintf("v%d", i)
		if i%2 == 0 {
			a.AddString(v)
		} else {
			b.AddString(v)
		}
		union.AddString(v)
	}

	require.NoError(t, a.Merge(b))
	assert.True(t, a.Equal(union))
}

func TestMerge_PrecisionMismatch(t *testing.T) {
	a := MustNew(10)
	b := MustNew(12)
	a.AddString("x")
	snapshot := a.Registers()

	err := a.Merge(b)
	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch))
	assert.Equal(t, snapshot, a.Registers(), "failed merge must leave the receiver untouched")
}

func TestMerge_Nil(t *testing.T) {
	a := MustNew(8)
	a.AddString("x")
	require.NoError(t, a.Merge(nil))
	assert.Equal(t, uint64(1), a.Estimate())
}

func TestCloneAndClear(t *testing.T) {
	a := MustNew(8)
	a.AddString("one")
	a.AddString("two")

	b := a.Clone()
	assert.True(t, a.Equal(b))

	a.Clear()
	assert.Equal(t, uint64(0), a.Estimate())
	assert.False(t, a.Equal(b))
	assert.NotZero(t, b.Estimate())
}

func TestStandardError(t *testing.T) {
	c := MustNew(DefaultPrecision)
	assert.InDelta(t, 0.008125, c.StandardError(), 1e-6)
}
