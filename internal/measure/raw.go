package measure

import (
	"encoding/binary"
	"strings"

	"github.com/arkilian/cubecore/internal/datatype"
	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// RawDataType is the data type name of the passthrough measure.
const RawDataType = "raw"

// RawFactory serves RAW over raw: every value is kept, nothing is aggregated.
type RawFactory struct{}

func (RawFactory) FunctionName() string { return FuncRaw }
func (RawFactory) DataTypeName() string { return RawDataType }
func (RawFactory) NeedRewrite() bool    { return true }

func (RawFactory) Serializer() datatype.SerializerSpec {
	return datatype.SerializerSpec{ID: "raw.list.v1", New: func(*datatype.DataType) (datatype.Serializer, error) {
		return rawSerializer{}, nil
	}}
}

func (RawFactory) Create(functionName string, dt *datatype.DataType) (MeasureType, error) {
	if dt.Name() != RawDataType {
		return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
			"data type %s is not %s", dt, RawDataType)
	}
	return &rawType{function: strings.ToUpper(functionName), dataType: dt}, nil
}

type rawType struct {
	function string
	dataType *datatype.DataType
}

func (t *rawType) FunctionName() string               { return t.function }
func (t *rawType) DataType() *datatype.DataType       { return t.dataType }
func (t *rawType) Kind() Kind                         { return KindRaw }
func (t *rawType) NeedRewrite() bool                  { return true }
func (t *rawType) RewriteFunction() (string, error)   { return FuncRaw, nil }
func (t *rawType) NewIngester() (Ingester, error)     { return rawIngester{}, nil }
func (t *rawType) NewAggregator() (Aggregator, error) { return &rawAggregator{}, nil }

type rawIngester struct{}

// ValueOf returns the first column's value. An empty value is NULL and is
// not kept.
func (rawIngester) ValueOf(values []string) (interface{}, error) {
	if len(values) == 0 || values[0] == "" {
		return nil, nil
	}
	return values[0], nil
}

// rawAggregator keeps values in arrival order. It accepts single values and
// value lists, the latter being another raw aggregator's state.
type rawAggregator struct {
	values []string
}

func (a *rawAggregator) Aggregate(value interface{}) error {
	switch v := value.(type) {
	case nil:
	case string:
		a.values = append(a.values, v)
	case []string:
		a.values = append(a.values, v...)
	default:
		return typeMismatch("raw", value)
	}
	return nil
}

func (a *rawAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }

func (a *rawAggregator) State() interface{} {
	out := make([]string, len(a.values))
	copy(out, a.values)
	return out
}

func (a *rawAggregator) Result() interface{} { return a.State() }
func (a *rawAggregator) Reset()              { a.values = nil }

// rawSerializer writes a uvarint count followed by uvarint-length-prefixed values.
type rawSerializer struct{}

func (rawSerializer) Serialize(value interface{}) ([]byte, error) {
	var values []string
	switch v := value.(type) {
	case nil:
	case string:
		values = []string{v}
	case []string:
		values = v
	default:
		return nil, typeMismatch("raw serializer", value)
	}

	buf := binary.AppendUvarint(nil, uint64(len(values)))
	for _, s := range values {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf, nil
}

func (rawSerializer) Deserialize(data []byte) (interface{}, error) {
	corrupt := func(what string) error {
		return cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodeCorruptSketch, "raw list: %s", what)
	}

	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, corrupt("bad count")
	}
	data = data[n:]
	if count > uint64(len(data)) {
		return nil, corrupt("count exceeds payload")
	}

	values := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		size, n := binary.Uvarint(data)
		if n <= 0 || size > uint64(len(data)-n) {
			return nil, corrupt("truncated value")
		}
		data = data[n:]
		values = append(values, string(data[:size]))
		data = data[size:]
	}
	if len(data) != 0 {
		return nil, corrupt("trailing bytes")
	}
	return values, nil
}
