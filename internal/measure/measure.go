// Package measure maps aggregation functions and value data types to
// concrete aggregation strategies.
//
// A MeasureType is identified by its (function name, data type name) pair and
// produces Ingesters, which turn raw column values into the aggregator's
// internal representation, and Aggregators, which fold those values into a
// running state. Strategies are contributed by Factories and looked up
// through a Registry built once from static registration data.
package measure

import (
	"github.com/arkilian/cubecore/internal/datatype"
)

// Kind is the closed set of measure type variants.
type Kind int

const (
	// KindUnresolved is the placeholder returned when the data type is not
	// yet known. It only answers NeedRewrite.
	KindUnresolved Kind = iota
	KindBasic
	KindApproxCountDistinct
	KindExactCountDistinct
	KindRaw
	// KindExtension is reported by measure types contributed outside this package.
	KindExtension
)

func (k Kind) String() string {
	switch k {
	case KindUnresolved:
		return "unresolved"
	case KindBasic:
		return "basic"
	case KindApproxCountDistinct:
		return "approx_count_distinct"
	case KindExactCountDistinct:
		return "exact_count_distinct"
	case KindRaw:
		return "raw"
	case KindExtension:
		return "extension"
	}
	return "unknown"
}

// Well-known aggregation function names. Function names are upper case.
const (
	FuncSum           = "SUM"
	FuncMin           = "MIN"
	FuncMax           = "MAX"
	FuncCount         = "COUNT"
	FuncCountDistinct = "COUNT_DISTINCT"
	FuncRaw           = "RAW"
)

// MeasureType is an immutable aggregation strategy for one function over one
// data type.
type MeasureType interface {
	// FunctionName returns the upper-case function name served.
	FunctionName() string

	// DataType returns the value type, or nil for the unresolved placeholder.
	DataType() *datatype.DataType

	// Kind returns the variant tag.
	Kind() Kind

	// NeedRewrite reports whether the query planner must rewrite the
	// function into a custom aggregation at plan time.
	NeedRewrite() bool

	// RewriteFunction returns the name of the aggregation the planner
	// rewrites the function to, or "" when no rewrite is needed.
	RewriteFunction() (string, error)

	NewIngester() (Ingester, error)
	NewAggregator() (Aggregator, error)
}

// Ingester converts the raw values of one input row into the representation
// its Aggregator consumes. An empty string is treated as NULL; a nil result
// means the row contributes nothing.
type Ingester interface {
	ValueOf(values []string) (interface{}, error)
}

// Aggregator is the mutable running state of one measure for one group.
type Aggregator interface {
	// Aggregate folds an ingested value into the state. Nil is ignored.
	Aggregate(value interface{}) error

	// Merge folds the state of another aggregator of the same type.
	Merge(other Aggregator) error

	// State returns the mergeable state, suitable for the data type serializer.
	State() interface{}

	// Result returns the query-visible value of the state.
	Result() interface{}

	// Reset clears the state.
	Reset()
}

// Factory contributes a measure type for a fixed function name and data type
// name. Default factories (see Basic) serve any function name and leave
// FunctionName and DataTypeName empty.
type Factory interface {
	FunctionName() string
	DataTypeName() string

	// Serializer is registered into the data type registry under
	// DataTypeName. Factories over builtin types return a zero spec.
	Serializer() datatype.SerializerSpec

	// NeedRewrite is the rewrite declaration of every measure type the
	// factory creates.
	NeedRewrite() bool

	Create(functionName string, dt *datatype.DataType) (MeasureType, error)
}
