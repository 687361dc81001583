package query

import (
	"context"
	"errors"
	"testing"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine hands out a fresh iterator over the same tuples per search.
type fakeEngine struct {
	tuples []Tuple
	err    error

	searches   int
	lastSC     StorageContext
	lastDigest *Digest
	iterators  []*SliceIterator
}

func (e *fakeEngine) Search(_ context.Context, sc *StorageContext, d *Digest) (TupleIterator, error) {
	e.searches++
	e.lastSC = *sc
	e.lastDigest = d
	if e.err != nil {
		return nil, e.err
	}
	it := NewSliceIterator(e.tuples...)
	e.iterators = append(e.iterators, it)
	return it, nil
}

type failingIterator struct{ err error }

func (it *failingIterator) Next() bool   { return false }
func (it *failingIterator) Tuple() Tuple { return nil }
func (it *failingIterator) Err() error   { return it.err }
func (it *failingIterator) Close() error { return nil }

type iteratorEngine struct{ it TupleIterator }

func (e *iteratorEngine) Search(context.Context, *StorageContext, *Digest) (TupleIterator, error) {
	return e.it, nil
}

func newTestEnumerator(engine StorageEngine, d *Digest, session Session, columns ...string) *Enumerator {
	logger := logging.Nop()
	return NewEnumerator(engine, nil, d, session, columns, EnumeratorOptions{
		DefaultScanThreshold: 1000,
		Logger:               &logger,
	})
}

func TestEnumerator_EmptySequence(t *testing.T) {
	engine := &fakeEngine{}
	e := newTestEnumerator(engine, &Digest{}, nil, "A", "B")
	row := e.Current()

	ok, err := e.MoveNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []interface{}{nil, nil}, row)
	assert.Same(t, &row[0], &e.Current()[0])
	assert.Equal(t, "exhausted", e.State())

	ok, err = e.MoveNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, engine.searches)
}

func TestEnumerator_CloseTwice(t *testing.T) {
	engine := &fakeEngine{tuples: []Tuple{NewSimpleTuple(NewTupleShape("A"), []interface{}{1})}}
	e := newTestEnumerator(engine, &Digest{}, nil, "A")

	ok, err := e.MoveNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
	assert.True(t, engine.iterators[0].Closed())
}

func TestEnumerator_CloseBeforeOpen(t *testing.T) {
	engine := &fakeEngine{}
	e := newTestEnumerator(engine, &Digest{}, nil, "A")

	assert.NoError(t, e.Close())
	assert.Zero(t, engine.searches)

	_, err := e.MoveNext(context.Background())
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryQuery, cerrors.CodeEnumeratorClosed))
	assert.Zero(t, engine.searches)
}

func TestEnumerator_ShapesRowsByName(t *testing.T) {
	shape := NewTupleShape("B", "IGNORED", "A")
	engine := &fakeEngine{tuples: []Tuple{
		NewSimpleTuple(shape, []interface{}{"b1", "x", "a1"}),
		NewSimpleTuple(shape, []interface{}{"b2", "x", "a2"}),
	}}
	e := newTestEnumerator(engine, &Digest{}, nil, "A", "B")
	ctx := context.Background()

	ok, err := e.MoveNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a1", "b1"}, e.Current())
	first := &e.fieldIndexes[0]

	ok, err = e.MoveNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a2", "b2"}, e.Current())
	assert.Same(t, first, &e.fieldIndexes[0], "index map recomputed for an unchanged shape")
	assert.Equal(t, []int{1, -1, 0}, e.fieldIndexes)

	ok, err = e.MoveNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnumerator_RecomputesOnNewShapeToken(t *testing.T) {
	engine := &fakeEngine{tuples: []Tuple{
		NewSimpleTuple(NewTupleShape("A", "B"), []interface{}{1, 2}),
		NewSimpleTuple(NewTupleShape("B", "A"), []interface{}{3, 4}),
	}}
	e := newTestEnumerator(engine, &Digest{}, nil, "A", "B")
	ctx := context.Background()

	_, err := e.MoveNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2}, e.Current())

	_, err = e.MoveNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{4, 3}, e.Current())
}

func TestEnumerator_NilTupleEndsSequence(t *testing.T) {
	shape := NewTupleShape("A")
	engine := &fakeEngine{tuples: []Tuple{
		NewSimpleTuple(shape, []interface{}{1}),
		nil,
		NewSimpleTuple(shape, []interface{}{2}),
	}}
	e := newTestEnumerator(engine, &Digest{}, nil, "A")
	ctx := context.Background()

	ok, err := e.MoveNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.MoveNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []interface{}{1}, e.Current())

	ok, _ = e.MoveNext(ctx)
	assert.False(t, ok)
}

func TestEnumerator_SearchErrorPropagatedUnchanged(t *testing.T) {
	searchErr := cerrors.NewQueryError(cerrors.CodeSearchFailed, "engine down")
	e := newTestEnumerator(&fakeEngine{err: searchErr}, &Digest{}, nil, "A")

	_, err := e.MoveNext(context.Background())
	assert.Same(t, searchErr, err)
}

func TestEnumerator_IteratorErrorPropagated(t *testing.T) {
	iterErr := errors.New("fragment fetch failed")
	e := newTestEnumerator(&iteratorEngine{it: &failingIterator{err: iterErr}}, &Digest{}, nil, "A")

	ok, err := e.MoveNext(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, iterErr)
}

func TestEnumerator_ScanThreshold(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    int64
		wantErr bool
	}{
		{"no session", nil, 1000, false},
		{"missing property", MapSession{}, 1000, false},
		{"session value", MapSession{Properties: map[string]string{PropScanThreshold: "500"}}, 500, false},
		{"unparsable", MapSession{Properties: map[string]string{PropScanThreshold: "lots"}}, 0, true},
		{"negative", MapSession{Properties: map[string]string{PropScanThreshold: "-1"}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			e := newTestEnumerator(engine, &Digest{}, tt.session, "A")

			_, err := e.MoveNext(context.Background())
			if tt.wantErr {
				assert.True(t, cerrors.HasCode(err, cerrors.ErrCategoryQuery, cerrors.CodeInvalidProperty))
				assert.Zero(t, engine.searches)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, engine.lastSC.ScanThreshold)
		})
	}
}

func TestEnumerator_BindsVariablesBeforeSearch(t *testing.T) {
	region := NewVariableFilter(colRegion, OpEQ, "region")
	d := &Digest{Filter: And(region, NewVariableFilter(colYear, OpEQ, "year"))}
	session := MapSession{Variables: map[string]string{"region": "EU"}}
	engine := &fakeEngine{}

	e := newTestEnumerator(engine, d, session, "A")
	_, err := e.MoveNext(context.Background())
	require.NoError(t, err)

	assert.Same(t, d, engine.lastDigest)
	assert.Equal(t, []string{"EU"}, region.Values)
}

func TestEnumerator_ResetRestartsSearch(t *testing.T) {
	engine := &fakeEngine{tuples: []Tuple{NewSimpleTuple(NewTupleShape("A"), []interface{}{7})}}
	e := newTestEnumerator(engine, &Digest{}, nil, "A")
	ctx := context.Background()

	for {
		ok, err := e.MoveNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}

	require.NoError(t, e.Reset(ctx))
	assert.Equal(t, 2, engine.searches)
	assert.True(t, engine.iterators[0].Closed())

	ok, err := e.MoveNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []interface{}{7}, e.Current())
}

func TestEnumerator_ResetAfterClose(t *testing.T) {
	engine := &fakeEngine{tuples: []Tuple{NewSimpleTuple(NewTupleShape("A"), []interface{}{7})}}
	e := newTestEnumerator(engine, &Digest{}, nil, "A")
	ctx := context.Background()

	require.NoError(t, e.Close())
	require.NoError(t, e.Reset(ctx))

	ok, err := e.MoveNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnumerator_FallbackRunsOnce(t *testing.T) {
	logger := logging.Nop()
	engine := &fakeEngine{}
	d := &Digest{FactTable: factTable}
	e := NewEnumerator(engine, testCube(sumMeasure("B")), d, nil, []string{"A", "B"}, EnumeratorOptions{Logger: &logger})
	ctx := context.Background()

	_, err := e.MoveNext(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Reset(ctx))

	assert.True(t, e.Fallback().Applied)
	assert.Equal(t, []types.Column{colA}, engine.lastDigest.GroupByColumns)
	assert.Len(t, engine.lastDigest.Aggregations, 1)
}
