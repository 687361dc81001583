// Package types provides the value types shared by the cube query core:
// column references, aggregation function descriptors and cuboid identifiers.
package types

import "strings"

// Column references a column of a table in the cube's data model.
// Two columns are equal when both table and name match exactly.
type Column struct {
	// Table is the owning table, e.g. "DEFAULT.KYLIN_SALES"
	Table string `json:"table" yaml:"table"`

	// Name is the column name within the table
	Name string `json:"name" yaml:"name"`
}

// NewColumn creates a column reference.
func NewColumn(table, name string) Column {
	return Column{Table: table, Name: name}
}

// String returns the qualified column name.
func (c Column) String() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// ParseColumn parses "TABLE.COLUMN" into a column reference. The last dot
// separates the column name, so schema-qualified tables are kept intact.
func ParseColumn(qualified string) Column {
	idx := strings.LastIndex(qualified, ".")
	if idx < 0 {
		return Column{Name: qualified}
	}
	return Column{Table: qualified[:idx], Name: qualified[idx+1:]}
}

// ContainsColumn reports whether cols contains c.
func ContainsColumn(cols []Column, c Column) bool {
	for _, col := range cols {
		if col == c {
			return true
		}
	}
	return false
}

// AppendColumn appends c to cols unless it is already present, keeping
// insertion order so downstream row layouts stay deterministic.
func AppendColumn(cols []Column, c Column) []Column {
	if ContainsColumn(cols, c) {
		return cols
	}
	return append(cols, c)
}

// SameColumnSet reports whether a and b contain the same columns, ignoring
// order and duplicates.
func SameColumnSet(a, b []Column) bool {
	for _, c := range a {
		if !ContainsColumn(b, c) {
			return false
		}
	}
	for _, c := range b {
		if !ContainsColumn(a, c) {
			return false
		}
	}
	return true
}
