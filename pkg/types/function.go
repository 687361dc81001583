package types

import (
	"fmt"
	"strings"
)

// Parameter types of a function descriptor.
const (
	ParamTypeColumn   = "column"
	ParamTypeConstant = "constant"
)

// ParameterDesc describes the argument of an aggregation function.
type ParameterDesc struct {
	// Type is either "column" or "constant"
	Type string `json:"type" yaml:"type"`

	// Value is the column name or the constant literal
	Value string `json:"value" yaml:"value"`
}

// FunctionDesc describes an aggregation function applied to a parameter,
// e.g. SUM(PRICE) or COUNT_DISTINCT(SELLER_ID) returning hllc(10).
type FunctionDesc struct {
	// Expression is the function name, e.g. "SUM"
	Expression string `json:"expression" yaml:"expression"`

	// Parameter is the function argument
	Parameter ParameterDesc `json:"parameter" yaml:"parameter"`

	// ReturnType is the data type of the aggregated value, e.g. "bigint", "hllc(10)"
	ReturnType string `json:"return_type,omitempty" yaml:"return_type,omitempty"`

	// Alias is the tuple field name the storage engine should emit the
	// aggregated value under. Empty means the default OutputName.
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// NewColumnFunction creates a function over a single column.
func NewColumnFunction(expression, column string) FunctionDesc {
	return FunctionDesc{
		Expression: strings.ToUpper(expression),
		Parameter:  ParameterDesc{Type: ParamTypeColumn, Value: column},
	}
}

// IsColumnParameter reports whether the function takes a column argument.
func (f FunctionDesc) IsColumnParameter() bool {
	return f.Parameter.Type == ParamTypeColumn
}

// Equal reports whether two functions compute the same aggregation. Return
// type and alias are presentation details and do not participate.
func (f FunctionDesc) Equal(other FunctionDesc) bool {
	return strings.EqualFold(f.Expression, other.Expression) &&
		f.Parameter.Type == other.Parameter.Type &&
		strings.EqualFold(f.Parameter.Value, other.Parameter.Value)
}

// OutputName returns the tuple field name for the aggregated value.
func (f FunctionDesc) OutputName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return strings.ToUpper(f.Expression) + "_" + f.Parameter.Value
}

// String returns the SQL-like representation, e.g. SUM(PRICE).
func (f FunctionDesc) String() string {
	return fmt.Sprintf("%s(%s)", strings.ToUpper(f.Expression), f.Parameter.Value)
}

// MeasureDesc is a named measure defined on a cube.
type MeasureDesc struct {
	Name     string       `json:"name" yaml:"name"`
	Function FunctionDesc `json:"function" yaml:"function"`
}
