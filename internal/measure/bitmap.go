package measure

import (
	"strconv"
	"strings"

	"github.com/arkilian/cubecore/internal/datatype"
	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/bits-and-blooms/bitset"
	"github.com/golang/snappy"
)

// BitmapDataType is the data type name of exact distinct-count bitmaps.
const BitmapDataType = "bitmap"

const BitmapRewriteFunction = "BITMAP_COUNT_DISTINCT"

// BitmapFactory serves COUNT_DISTINCT over bitmap. Input values must be
// non-negative integers, typically dictionary ids.
type BitmapFactory struct{}

func (BitmapFactory) FunctionName() string { return FuncCountDistinct }
func (BitmapFactory) DataTypeName() string { return BitmapDataType }
func (BitmapFactory) NeedRewrite() bool    { return true }

func (BitmapFactory) Serializer() datatype.SerializerSpec {
	return datatype.SerializerSpec{ID: "bitmap.snappy.v1", New: func(*datatype.DataType) (datatype.Serializer, error) {
		return bitmapSerializer{}, nil
	}}
}

func (BitmapFactory) Create(functionName string, dt *datatype.DataType) (MeasureType, error) {
	if dt.Name() != BitmapDataType {
		return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
			"data type %s is not %s", dt, BitmapDataType)
	}
	return &bitmapType{function: strings.ToUpper(functionName), dataType: dt}, nil
}

type bitmapType struct {
	function string
	dataType *datatype.DataType
}

func (t *bitmapType) FunctionName() string               { return t.function }
func (t *bitmapType) DataType() *datatype.DataType       { return t.dataType }
func (t *bitmapType) Kind() Kind                         { return KindExactCountDistinct }
func (t *bitmapType) NeedRewrite() bool                  { return true }
func (t *bitmapType) RewriteFunction() (string, error)   { return BitmapRewriteFunction, nil }
func (t *bitmapType) NewIngester() (Ingester, error)     { return bitmapIngester{}, nil }
func (t *bitmapType) NewAggregator() (Aggregator, error) { return &bitmapAggregator{}, nil }

type bitmapIngester struct{}

// ValueOf returns the row's id as a uint.
func (bitmapIngester) ValueOf(values []string) (interface{}, error) {
	if len(values) == 0 || values[0] == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(strings.TrimSpace(values[0]), 10, 32)
	if err != nil {
		return nil, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeInvalidValue,
			"bitmap value %q is not a non-negative 32-bit integer", values[0])
	}
	return uint(id), nil
}

type bitmapAggregator struct {
	bits *bitset.BitSet
}

// Aggregate sets a single id, or unions a whole bitmap coming from Merge or
// from stored cube data.
func (a *bitmapAggregator) Aggregate(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case uint:
		if a.bits == nil {
			a.bits = bitset.New(0)
		}
		a.bits.Set(v)
		return nil
	case *bitset.BitSet:
		if v == nil {
			return nil
		}
		if a.bits == nil {
			a.bits = v.Clone()
			return nil
		}
		a.bits.InPlaceUnion(v)
		return nil
	default:
		return typeMismatch("bitmap", value)
	}
}

func (a *bitmapAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }

func (a *bitmapAggregator) State() interface{} {
	if a.bits == nil {
		return (*bitset.BitSet)(nil)
	}
	return a.bits
}

func (a *bitmapAggregator) Result() interface{} {
	if a.bits == nil {
		return int64(0)
	}
	return int64(a.bits.Count())
}

func (a *bitmapAggregator) Reset() { a.bits = nil }

// bitmapSerializer stores the bitset's binary form, snappy block compressed.
type bitmapSerializer struct{}

func (bitmapSerializer) Serialize(value interface{}) ([]byte, error) {
	b, ok := value.(*bitset.BitSet)
	if !ok {
		return nil, typeMismatch("bitmap serializer", value)
	}
	if b == nil {
		b = bitset.New(0)
	}
	raw, err := b.MarshalBinary()
	if err != nil {
		return nil, cerrors.NewInternalError("encode bitmap", err)
	}
	return snappy.Encode(nil, raw), nil
}

func (bitmapSerializer) Deserialize(data []byte) (interface{}, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch, "decompress bitmap", err)
	}
	b := &bitset.BitSet{}
	if err := b.UnmarshalBinary(raw); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch, "decode bitmap", err)
	}
	return b, nil
}
