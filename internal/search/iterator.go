package search

import (
	"database/sql"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/query"
)

// rowIterator streams raw fact rows. All tuples share one shape.
type rowIterator struct {
	rows      *sql.Rows
	shape     *query.TupleShape
	threshold int64

	values  []interface{}
	ptrs    []interface{}
	current query.Tuple
	scanned int64
	err     error
	closed  bool
}

func newRowIterator(rows *sql.Rows, shape *query.TupleShape, threshold int64) *rowIterator {
	n := len(shape.Fields())
	it := &rowIterator{
		rows:      rows,
		shape:     shape,
		threshold: threshold,
		values:    make([]interface{}, n),
		ptrs:      make([]interface{}, n),
	}
	for i := range it.values {
		it.ptrs[i] = &it.values[i]
	}
	return it
}

func (it *rowIterator) Next() bool {
	it.current = nil
	if it.closed || it.err != nil {
		return false
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "fact table scan failed", err)
		}
		return false
	}
	it.scanned++
	if it.threshold > 0 && it.scanned > it.threshold {
		it.err = thresholdExceeded(it.threshold)
		return false
	}
	if err := it.rows.Scan(it.ptrs...); err != nil {
		it.err = cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "row scan failed", err)
		return false
	}
	row := make([]interface{}, len(it.values))
	for i, v := range it.values {
		row[i] = normalize(v)
	}
	it.current = query.NewSimpleTuple(it.shape, row)
	return true
}

func (it *rowIterator) Tuple() query.Tuple { return it.current }
func (it *rowIterator) Err() error         { return it.err }

func (it *rowIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.rows.Close()
}
