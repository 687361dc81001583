package measure

import (
	"strings"

	"github.com/arkilian/cubecore/internal/datatype"
	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/hllc"
)

// HLLCDataType is the data type name of approximate distinct-count sketches,
// written "hllc(<precision>)".
const HLLCDataType = "hllc"

// HLLCRewriteFunction is the custom aggregation COUNT_DISTINCT over hllc is
// rewritten to.
const HLLCRewriteFunction = "HLLCOUNT_DISTINCT"

// HLLCFactory serves COUNT_DISTINCT over hllc(p).
type HLLCFactory struct{}

func (HLLCFactory) FunctionName() string { return FuncCountDistinct }
func (HLLCFactory) DataTypeName() string { return HLLCDataType }
func (HLLCFactory) NeedRewrite() bool    { return true }

func (HLLCFactory) Serializer() datatype.SerializerSpec {
	return datatype.SerializerSpec{ID: "hllc.counter.v1", New: newHLLCSerializer}
}

func (HLLCFactory) Create(functionName string, dt *datatype.DataType) (MeasureType, error) {
	precision, err := hllcPrecision(dt)
	if err != nil {
		return nil, err
	}
	return &hllcType{function: strings.ToUpper(functionName), dataType: dt, precision: precision}, nil
}

func hllcPrecision(dt *datatype.DataType) (int, error) {
	if dt.Name() != HLLCDataType {
		return 0, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
			"data type %s is not %s", dt, HLLCDataType)
	}
	p := dt.Precision()
	if p < 0 {
		return hllc.DefaultPrecision, nil
	}
	if err := hllc.ValidatePrecision(p); err != nil {
		return 0, err
	}
	return p, nil
}

type hllcType struct {
	function  string
	dataType  *datatype.DataType
	precision int
}

func (t *hllcType) FunctionName() string             { return t.function }
func (t *hllcType) DataType() *datatype.DataType     { return t.dataType }
func (t *hllcType) Kind() Kind                       { return KindApproxCountDistinct }
func (t *hllcType) NeedRewrite() bool                { return true }
func (t *hllcType) RewriteFunction() (string, error) { return HLLCRewriteFunction, nil }
func (t *hllcType) NewIngester() (Ingester, error)   { return &hllcIngester{precision: t.precision}, nil }

func (t *hllcType) NewAggregator() (Aggregator, error) {
	return &hllcAggregator{precision: t.precision}, nil
}

// hllcIngester hashes the row's values, joined, into a single-value counter.
// Rows where every value is NULL produce nothing.
type hllcIngester struct {
	precision int
}

func (in *hllcIngester) ValueOf(values []string) (interface{}, error) {
	allNull := true
	for _, v := range values {
		if v != "" {
			allNull = false
			break
		}
	}
	if allNull {
		return nil, nil
	}
	c, err := hllc.New(in.precision)
	if err != nil {
		return nil, err
	}
	c.AddString(strings.Join(values, "\x00"))
	return c, nil
}

type hllcAggregator struct {
	precision int
	counter   *hllc.Counter
}

func (a *hllcAggregator) Aggregate(value interface{}) error {
	if value == nil {
		return nil
	}
	c, ok := value.(*hllc.Counter)
	if !ok {
		return typeMismatch("hllc", value)
	}
	if c == nil {
		return nil
	}
	if a.counter == nil {
		if c.Precision() != a.precision {
			return cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch,
				"cannot merge precision %d into precision %d", c.Precision(), a.precision)
		}
		a.counter = c.Clone()
		return nil
	}
	return a.counter.Merge(c)
}

func (a *hllcAggregator) Merge(other Aggregator) error { return a.Aggregate(other.State()) }

// State returns the counter, or nil when nothing was aggregated.
func (a *hllcAggregator) State() interface{} {
	if a.counter == nil {
		return (*hllc.Counter)(nil)
	}
	return a.counter
}

func (a *hllcAggregator) Result() interface{} {
	if a.counter == nil {
		return int64(0)
	}
	return int64(a.counter.Estimate())
}

func (a *hllcAggregator) Reset() { a.counter = nil }

type hllcSerializer struct {
	precision int
}

func newHLLCSerializer(dt *datatype.DataType) (datatype.Serializer, error) {
	p, err := hllcPrecision(dt)
	if err != nil {
		return nil, err
	}
	return hllcSerializer{precision: p}, nil
}

func (s hllcSerializer) Serialize(value interface{}) ([]byte, error) {
	c, ok := value.(*hllc.Counter)
	if !ok {
		return nil, typeMismatch("hllc serializer", value)
	}
	if c == nil {
		c = hllc.MustNew(s.precision)
	}
	if c.Precision() != s.precision {
		return nil, cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch,
			"counter precision %d, column precision %d", c.Precision(), s.precision)
	}
	return c.MarshalBinary()
}

func (s hllcSerializer) Deserialize(data []byte) (interface{}, error) {
	c := &hllc.Counter{}
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if c.Precision() != s.precision {
		return nil, cerrors.Newf(cerrors.ErrCategorySketch, cerrors.CodePrecisionMismatch,
			"stored precision %d, column precision %d", c.Precision(), s.precision)
	}
	return c, nil
}
