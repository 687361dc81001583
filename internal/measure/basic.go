package measure

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkilian/cubecore/internal/datatype"
	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// BasicFactory is the default factory: SUM, MIN, MAX and COUNT over native
// numeric and string types. These aggregations are understood by the planner
// as-is and never need rewriting.
type BasicFactory struct{}

func (BasicFactory) FunctionName() string                { return "" }
func (BasicFactory) DataTypeName() string                { return "" }
func (BasicFactory) Serializer() datatype.SerializerSpec { return datatype.SerializerSpec{} }
func (BasicFactory) NeedRewrite() bool                   { return false }

// Create validates the data type against the function: SUM requires a
// numeric type, COUNT an integer type; MIN and MAX accept numeric and string
// types.
func (BasicFactory) Create(functionName string, dt *datatype.DataType) (MeasureType, error) {
	fn := strings.ToUpper(functionName)
	switch fn {
	case FuncSum:
		if !dt.IsNumber() {
			return nil, invalidType(fn, dt)
		}
	case FuncCount:
		if !dt.IsIntegerFamily() {
			return nil, invalidType(fn, dt)
		}
	case FuncMin, FuncMax:
		if !dt.IsNumber() && !dt.IsStringFamily() && dt.Family() != datatype.FamilyDateTime {
			return nil, invalidType(fn, dt)
		}
	default:
		return nil, cerrors.Newf(cerrors.ErrCategoryResolution, cerrors.CodeUnsupportedFunction,
			"function %s is not supported by the basic measure type", fn)
	}
	return &basicType{function: fn, dataType: dt}, nil
}

func invalidType(fn string, dt *datatype.DataType) error {
	return cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
		"data type %s is not valid for %s", dt, fn)
}

type basicType struct {
	function string
	dataType *datatype.DataType
}

func (t *basicType) FunctionName() string             { return t.function }
func (t *basicType) DataType() *datatype.DataType     { return t.dataType }
func (t *basicType) Kind() Kind                       { return KindBasic }
func (t *basicType) NeedRewrite() bool                { return false }
func (t *basicType) RewriteFunction() (string, error) { return "", nil }

// integral reports whether values are kept as int64 rather than float64.
// Date and time values are ordered lexically and stay strings.
func (t *basicType) integral() bool {
	return t.function == FuncCount || t.dataType.IsIntegerFamily()
}

func (t *basicType) numeric() bool {
	return t.function == FuncCount || t.dataType.IsNumber()
}

func (t *basicType) NewIngester() (Ingester, error) {
	return basicIngester{t: t}, nil
}

func (t *basicType) NewAggregator() (Aggregator, error) {
	switch {
	case t.function == FuncSum || t.function == FuncCount:
		if t.integral() {
			return &longSumAggregator{}, nil
		}
		return &doubleSumAggregator{}, nil
	case t.numeric() && t.integral():
		return &longExtremeAggregator{max: t.function == FuncMax}, nil
	case t.numeric():
		return &doubleExtremeAggregator{max: t.function == FuncMax}, nil
	default:
		return &stringExtremeAggregator{max: t.function == FuncMax}, nil
	}
}

type basicIngester struct {
	t *basicType
}

func (in basicIngester) ValueOf(values []string) (interface{}, error) {
	if in.t.function == FuncCount {
		return int64(1), nil
	}
	if len(values) == 0 || values[0] == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(values[0])
	switch {
	case in.t.numeric() && in.t.integral():
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
				return int64(f), nil
			}
			return nil, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeInvalidValue,
				"%s: %q is not an integer", in.t.function, values[0])
		}
		return v, nil
	case in.t.numeric():
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeInvalidValue,
				"%s: %q is not a number", in.t.function, values[0])
		}
		return v, nil
	default:
		return values[0], nil
	}
}

func typeMismatch(agg string, value interface{}) error {
	return cerrors.NewInternalError(fmt.Sprintf("%s: unexpected value of type %T", agg, value), nil)
}

type longSumAggregator struct {
	sum int64
}

func (a *longSumAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := datatype.ToInt64(value)
	if !ok {
		return typeMismatch("long sum", value)
	}
	a.sum += v
	return nil
}

func (a *longSumAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }
func (a *longSumAggregator) State() interface{}           { return a.sum }
func (a *longSumAggregator) Result() interface{}          { return a.sum }
func (a *longSumAggregator) Reset()                       { a.sum = 0 }

type doubleSumAggregator struct {
	sum float64
}

func (a *doubleSumAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := datatype.ToFloat64(value)
	if !ok {
		return typeMismatch("double sum", value)
	}
	a.sum += v
	return nil
}

func (a *doubleSumAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }
func (a *doubleSumAggregator) State() interface{}           { return a.sum }
func (a *doubleSumAggregator) Result() interface{}          { return a.sum }
func (a *doubleSumAggregator) Reset()                       { a.sum = 0 }

// The extreme aggregators report nil until a value has been seen.

type longExtremeAggregator struct {
	max   bool
	seen  bool
	value int64
}

func (a *longExtremeAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := datatype.ToInt64(value)
	if !ok {
		return typeMismatch("long min/max", value)
	}
	if !a.seen || (a.max && v > a.value) || (!a.max && v < a.value) {
		a.value = v
		a.seen = true
	}
	return nil
}

func (a *longExtremeAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }

func (a *longExtremeAggregator) State() interface{} {
	if !a.seen {
		return nil
	}
	return a.value
}

func (a *longExtremeAggregator) Result() interface{} { return a.State() }
func (a *longExtremeAggregator) Reset()              { a.seen, a.value = false, 0 }

type doubleExtremeAggregator struct {
	max   bool
	seen  bool
	value float64
}

func (a *doubleExtremeAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := datatype.ToFloat64(value)
	if !ok {
		return typeMismatch("double min/max", value)
	}
	if !a.seen || (a.max && v > a.value) || (!a.max && v < a.value) {
		a.value = v
		a.seen = true
	}
	return nil
}

func (a *doubleExtremeAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }

func (a *doubleExtremeAggregator) State() interface{} {
	if !a.seen {
		return nil
	}
	return a.value
}

func (a *doubleExtremeAggregator) Result() interface{} { return a.State() }
func (a *doubleExtremeAggregator) Reset()              { a.seen, a.value = false, 0 }

type stringExtremeAggregator struct {
	max   bool
	seen  bool
	value string
}

func (a *stringExtremeAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	v, ok := value.(string)
	if !ok {
		return typeMismatch("string min/max", value)
	}
	if !a.seen || (a.max && v > a.value) || (!a.max && v < a.value) {
		a.value = v
		a.seen = true
	}
	return nil
}

func (a *stringExtremeAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }

func (a *stringExtremeAggregator) State() interface{} {
	if !a.seen {
		return nil
	}
	return a.value
}

func (a *stringExtremeAggregator) Result() interface{} { return a.State() }
func (a *stringExtremeAggregator) Reset()              { a.seen, a.value = false, "" }
