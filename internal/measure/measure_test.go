package measure

import (
	"fmt"
	"testing"

	"github.com/arkilian/cubecore/internal/datatype"
	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aggregate ingests each value as a single-column row.
func aggregate(t *testing.T, mt MeasureType, values ...string) Aggregator {
	t.Helper()
	in, err := mt.NewIngester()
	require.NoError(t, err)
	agg, err := mt.NewAggregator()
	require.NoError(t, err)
	for _, v := range values {
		iv, err := in.ValueOf([]string{v})
		require.NoError(t, err)
		require.NoError(t, agg.Aggregate(iv))
	}
	return agg
}

func TestBasic_Sum(t *testing.T) {
	agg := aggregate(t, MustResolve("SUM", "bigint"), "1", "2", "", "39")
	assert.Equal(t, int64(42), agg.Result())

	agg = aggregate(t, MustResolve("SUM", "decimal(19,4)"), "1.5", "2.25")
	assert.InDelta(t, 3.75, agg.Result(), 1e-9)

	agg.Reset()
	assert.Equal(t, 0.0, agg.Result())
}

func TestBasic_Count(t *testing.T) {
	agg := aggregate(t, MustResolve("COUNT", "bigint"), "a", "", "c")
	assert.Equal(t, int64(3), agg.Result(), "COUNT counts rows, not values")
}

func TestBasic_MinMax(t *testing.T) {
	assert.Equal(t, int64(-3), aggregate(t, MustResolve("MIN", "int"), "5", "-3", "7").Result())
	assert.Equal(t, 7.5, aggregate(t, MustResolve("MAX", "double"), "5", "7.5", "-1").Result())
	assert.Equal(t, "pear", aggregate(t, MustResolve("MAX", "varchar"), "apple", "pear", "fig").Result())
	assert.Nil(t, aggregate(t, MustResolve("MIN", "bigint")).Result(), "no input yields NULL")
}

func TestBasic_Merge(t *testing.T) {
	mt := MustResolve("SUM", "bigint")
	a := aggregate(t, mt, "10", "20")
	b := aggregate(t, mt, "12")
	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(42), a.Result())

	lo := aggregate(t, MustResolve("MIN", "bigint"), "4")
	empty := aggregate(t, MustResolve("MIN", "bigint"))
	require.NoError(t, lo.Merge(empty))
	assert.Equal(t, int64(4), lo.Result())
}

func TestBasic_InvalidInput(t *testing.T) {
	in, err := MustResolve("SUM", "bigint").NewIngester()
	require.NoError(t, err)
	_, err = in.ValueOf([]string{"abc"})
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryQuery, cerrors.CodeInvalidValue))

	_, err = ResolveName("SUM", "varchar")
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType))

	_, err = ResolveName("MEDIAN", "bigint")
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryResolution, cerrors.CodeUnsupportedFunction))
}

func TestHLLC_CountDistinct(t *testing.T) {
	mt := MustResolve("COUNT_DISTINCT", "hllc(14)")
	name, err := mt.RewriteFunction()
	require.NoError(t, err)
	assert.Equal(t, HLLCRewriteFunction, name)

	var values []string
	for i := 0; i < 1000; i++ {
		values = append(values, fmt.Sprintf("seller-%d", i%250))
	}
	agg := aggregate(t, mt, values...)
	assert.InDelta(t, 250, agg.Result(), 5)

	state, ok := agg.State().(*hllc.Counter)
	require.True(t, ok)
	assert.Equal(t, 14, state.Precision())
}

func TestHLLC_DefaultAndInvalidPrecision(t *testing.T) {
	mt := MustResolve("COUNT_DISTINCT", "hllc")
	agg := aggregate(t, mt, "x")
	assert.Equal(t, hllc.DefaultPrecision, agg.State().(*hllc.Counter).Precision())

	_, err := ResolveName("COUNT_DISTINCT", "hllc(2)")
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodeInvalidPrecision))
}

func TestHLLC_MergeAndSerialize(t *testing.T) {
	mt := MustResolve("COUNT_DISTINCT", "hllc(10)")
	a := aggregate(t, mt, "a", "b", "c")
	b := aggregate(t, mt, "c", "d")
	empty := aggregate(t, mt)

	require.NoError(t, a.Merge(b))
	require.NoError(t, a.Merge(empty))
	assert.InDelta(t, 4, a.Result(), 1)
	assert.Equal(t, int64(0), empty.Result())

	ser, err := datatype.NewSerializer(mt.DataType())
	require.NoError(t, err)
	data, err := ser.Serialize(a.State())
	require.NoError(t, err)
	back, err := ser.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, a.State().(*hllc.Counter).Equal(back.(*hllc.Counter)))

	other, err := datatype.NewSerializer(datatype.MustParse("hllc(12)"))
	require.NoError(t, err)
	_, err = other.Deserialize(data)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch))
}

func TestHLLC_MultiColumnRow(t *testing.T) {
	in, err := MustResolve("COUNT_DISTINCT", "hllc(10)").NewIngester()
	require.NoError(t, err)

	v, err := in.ValueOf([]string{"", ""})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = in.ValueOf([]string{"a", ""})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.(*hllc.Counter).Estimate())
}

func TestBitmap_CountDistinct(t *testing.T) {
	mt := MustResolve("COUNT_DISTINCT", "bitmap")
	a := aggregate(t, mt, "1", "5", "5", "", "1000")
	b := aggregate(t, mt, "5", "7")
	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(4), a.Result())

	ser, err := datatype.NewSerializer(mt.DataType())
	require.NoError(t, err)
	data, err := ser.Serialize(a.State())
	require.NoError(t, err)
	back, err := ser.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, a.State().(*bitset.BitSet).Equal(back.(*bitset.BitSet)))

	_, err = ser.Deserialize([]byte("not snappy"))
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch))

	in, err := mt.NewIngester()
	require.NoError(t, err)
	_, err = in.ValueOf([]string{"-1"})
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryQuery, cerrors.CodeInvalidValue))
}

func TestBitmap_HighIDs(t *testing.T) {
	mt := MustResolve("COUNT_DISTINCT", "bitmap")
	in, err := mt.NewIngester()
	require.NoError(t, err)

	v, err := in.ValueOf([]string{"4294967295"})
	require.NoError(t, err)
	assert.Equal(t, uint(4294967295), v, "rows carry the id, not a bitmap sized to it")

	a := aggregate(t, mt, "4294967295", "4294967295", "3")
	assert.Equal(t, int64(2), a.Result())
	assert.True(t, a.State().(*bitset.BitSet).Test(4294967295))
}

func TestSerializers_RejectForeignValues(t *testing.T) {
	_, err := Default()
	require.NoError(t, err)

	for _, name := range []string{"bitmap", "hllc(10)"} {
		ser, err := datatype.NewSerializer(datatype.MustParse(name))
		require.NoError(t, err)

		_, err = ser.Serialize("not a sketch")
		assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryInternal, cerrors.CodeUnexpected), "%s: %v", name, err)
		_, err = ser.Serialize(nil)
		assert.Error(t, err, name)
	}

	bitmaps, err := datatype.NewSerializer(datatype.MustParse("bitmap"))
	require.NoError(t, err)
	data, err := bitmaps.Serialize((*bitset.BitSet)(nil))
	require.NoError(t, err)
	back, err := bitmaps.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, uint(0), back.(*bitset.BitSet).Count())

	counters, err := datatype.NewSerializer(datatype.MustParse("hllc(10)"))
	require.NoError(t, err)
	data, err = counters.Serialize((*hllc.Counter)(nil))
	require.NoError(t, err)
	back, err = counters.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), back.(*hllc.Counter).Estimate())
}

func TestRaw_Passthrough(t *testing.T) {
	mt := MustResolve("RAW", "raw")
	a := aggregate(t, mt, "x", "y")
	b := aggregate(t, mt, "z")
	require.NoError(t, a.Merge(b))
	assert.Equal(t, []string{"x", "y", "z"}, a.Result())

	ser, err := datatype.NewSerializer(mt.DataType())
	require.NoError(t, err)
	data, err := ser.Serialize(a.State())
	require.NoError(t, err)
	back, err := ser.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, a.State(), back)

	_, err = ser.Deserialize(data[:len(data)-1])
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch))
}

func TestRaw_SkipsNulls(t *testing.T) {
	mt := MustResolve("RAW", "raw")
	in, err := mt.NewIngester()
	require.NoError(t, err)
	v, err := in.ValueOf([]string{""})
	require.NoError(t, err)
	assert.Nil(t, v)

	a := aggregate(t, mt, "x", "", "y", "")
	assert.Equal(t, []string{"x", "y"}, a.Result())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "approx_count_distinct", KindApproxCountDistinct.String())
	assert.Equal(t, "unresolved", KindUnresolved.String())
}
