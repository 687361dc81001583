package query

import (
	"strconv"

	"github.com/arkilian/cubecore/pkg/types"
)

// Digest is the normalized description of a query: its filter, the columns
// it touches, its grouping and the aggregations it requests.
type Digest struct {
	FactTable      string
	Filter         TupleFilter
	FilterColumns  []types.Column
	AllColumns     []types.Column
	GroupByColumns []types.Column
	MetricColumns  []types.Column
	Aggregations   []types.FunctionDesc
}

// HasAggregation reports whether the digest carries grouping or metrics.
func (d *Digest) HasAggregation() bool {
	return len(d.GroupByColumns) > 0 || len(d.MetricColumns) > 0
}

// Session exposes the read-only state of the query's connection: named
// properties such as scan_threshold, and runtime variable bindings.
type Session interface {
	Property(name string) (string, bool)
	Variable(name string) (string, bool)
}

// MapSession is a Session backed by maps.
type MapSession struct {
	Properties map[string]string
	Variables  map[string]string
}

func (s MapSession) Property(name string) (string, bool) {
	v, ok := s.Properties[name]
	return v, ok
}

func (s MapSession) Variable(name string) (string, bool) {
	v, ok := s.Variables[name]
	return v, ok
}

// PropScanThreshold is the session property capping rows scanned.
const PropScanThreshold = "scan_threshold"

// StorageContext carries per-query limits to the storage engine.
type StorageContext struct {
	// ScanThreshold is the maximum rows the engine may scan. Zero means
	// unlimited.
	ScanThreshold int64
}

func parseThreshold(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
