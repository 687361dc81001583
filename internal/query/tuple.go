package query

import (
	"context"
	"sync/atomic"
)

var shapeTokens atomic.Uint64

// TupleShape is the ordered field-name list shared by the tuples of one
// search. Each shape carries a unique token; consumers cache per-shape work
// by token and recompute only when it changes.
type TupleShape struct {
	token  uint64
	fields []string
}

// NewTupleShape creates a shape with a fresh token.
func NewTupleShape(fields ...string) *TupleShape {
	return &TupleShape{token: shapeTokens.Add(1), fields: fields}
}

// Token identifies the shape.
func (s *TupleShape) Token() uint64 { return s.token }

// Fields returns the field names. Callers must not modify the slice.
func (s *TupleShape) Fields() []string { return s.fields }

// Tuple is one result row of a search.
type Tuple interface {
	Shape() *TupleShape
	// Values is parallel to Shape().Fields().
	Values() []interface{}
}

// SimpleTuple is a Tuple over a value slice.
type SimpleTuple struct {
	shape  *TupleShape
	values []interface{}
}

// NewSimpleTuple creates a tuple.
func NewSimpleTuple(shape *TupleShape, values []interface{}) *SimpleTuple {
	return &SimpleTuple{shape: shape, values: values}
}

func (t *SimpleTuple) Shape() *TupleShape    { return t.shape }
func (t *SimpleTuple) Values() []interface{} { return t.values }

// TupleIterator is a lazy, forward-only, single-pass tuple sequence. Close
// may be called before the sequence is drained and must release resources.
type TupleIterator interface {
	// Next advances to the next tuple. It returns false when drained or on
	// error; Err distinguishes the two.
	Next() bool
	// Tuple returns the current tuple. A nil tuple marks end of data.
	Tuple() Tuple
	Err() error
	Close() error
}

// StorageEngine is the search contract of the physical store.
type StorageEngine interface {
	Search(ctx context.Context, sc *StorageContext, digest *Digest) (TupleIterator, error)
}

// SliceIterator is a TupleIterator over an in-memory slice.
type SliceIterator struct {
	tuples []Tuple
	pos    int
	closed bool
}

// NewSliceIterator creates an iterator over tuples.
func NewSliceIterator(tuples ...Tuple) *SliceIterator {
	return &SliceIterator{tuples: tuples, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.tuples) {
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Tuple() Tuple {
	if it.pos < 0 || it.pos >= len(it.tuples) {
		return nil
	}
	return it.tuples[it.pos]
}

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Close() error {
	it.closed = true
	return nil
}

// Closed reports whether Close was called.
func (it *SliceIterator) Closed() bool { return it.closed }
