// Package datatype provides canonical value-type descriptors and the
// process-wide registry of serializers used to persist aggregator state.
package datatype

import (
	"fmt"
	"strconv"
	"strings"

	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// Family groups data type names that share value semantics.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyInteger
	FamilyFloat
	FamilyDecimal
	FamilyString
	FamilyDateTime
	FamilyBoolean
	// FamilyComplex covers types registered by measure types (hllc, bitmap, raw).
	FamilyComplex
)

// builtinFamilies lists the native type names. Measure types add their own
// names through Register.
var builtinFamilies = map[string]Family{
	"tinyint":   FamilyInteger,
	"smallint":  FamilyInteger,
	"int":       FamilyInteger,
	"integer":   FamilyInteger,
	"bigint":    FamilyInteger,
	"long":      FamilyInteger,
	"float":     FamilyFloat,
	"double":    FamilyFloat,
	"real":      FamilyFloat,
	"decimal":   FamilyDecimal,
	"numeric":   FamilyDecimal,
	"char":      FamilyString,
	"varchar":   FamilyString,
	"string":    FamilyString,
	"date":      FamilyDateTime,
	"time":      FamilyDateTime,
	"datetime":  FamilyDateTime,
	"timestamp": FamilyDateTime,
	"boolean":   FamilyBoolean,
}

// DataType is an immutable, canonical value-type descriptor such as
// "bigint", "decimal(19,4)" or "hllc(12)". Names are always lower case.
type DataType struct {
	name      string
	precision int
	scale     int
	family    Family
}

// Parse parses a data type string. The name is case-normalised to lower
// case and must be a builtin or registered type name.
func Parse(s string) (*DataType, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return nil, cerrors.NewConfigError(cerrors.CodeInvalidDataType, "empty data type")
	}

	name := text
	var args []int
	if open := strings.IndexByte(text, '('); open >= 0 {
		if !strings.HasSuffix(text, ")") {
			return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
				"malformed data type %q", s)
		}
		name = strings.TrimSpace(text[:open])
		for _, part := range strings.Split(text[open+1:len(text)-1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 0 {
				return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
					"malformed data type argument in %q", s)
			}
			args = append(args, n)
		}
		if len(args) > 2 {
			return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
				"too many arguments in data type %q", s)
		}
	}

	family, ok := familyOf(name)
	if !ok {
		return nil, cerrors.Newf(cerrors.ErrCategoryConfig, cerrors.CodeInvalidDataType,
			"unknown data type %q", s)
	}

	dt := &DataType{name: name, precision: -1, scale: -1, family: family}
	if len(args) > 0 {
		dt.precision = args[0]
	}
	if len(args) > 1 {
		dt.scale = args[1]
	}
	return dt, nil
}

// MustParse is like Parse but panics on error. Intended for static tables.
func MustParse(s string) *DataType {
	dt, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// Name returns the lower-case base name, e.g. "hllc" for "hllc(12)".
func (d *DataType) Name() string { return d.name }

// Precision returns the first type argument, or -1 when absent.
func (d *DataType) Precision() int { return d.precision }

// Scale returns the second type argument, or -1 when absent.
func (d *DataType) Scale() int { return d.scale }

// Family returns the value family of the type.
func (d *DataType) Family() Family { return d.family }

// IsNumber reports whether the type holds numeric values.
func (d *DataType) IsNumber() bool {
	return d.family == FamilyInteger || d.family == FamilyFloat || d.family == FamilyDecimal
}

// IsIntegerFamily reports whether the type holds integral values.
func (d *DataType) IsIntegerFamily() bool { return d.family == FamilyInteger }

// IsStringFamily reports whether the type holds character data.
func (d *DataType) IsStringFamily() bool { return d.family == FamilyString }

// Equal reports whether two data types are identical.
func (d *DataType) Equal(other *DataType) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.name == other.name && d.precision == other.precision && d.scale == other.scale
}

// String returns the canonical form, e.g. "decimal(19,4)".
func (d *DataType) String() string {
	switch {
	case d.precision >= 0 && d.scale >= 0:
		return fmt.Sprintf("%s(%d,%d)", d.name, d.precision, d.scale)
	case d.precision >= 0:
		return fmt.Sprintf("%s(%d)", d.name, d.precision)
	default:
		return d.name
	}
}

func familyOf(name string) (Family, bool) {
	if f, ok := builtinFamilies[name]; ok {
		return f, true
	}
	if IsRegistered(name) {
		return FamilyComplex, true
	}
	return FamilyUnknown, false
}
