package query

import (
	"context"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/rs/zerolog"
)

type enumState int

const (
	stateUnopened enumState = iota
	stateOpen
	stateExhausted
	stateClosed
)

func (s enumState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateOpen:
		return "open"
	case stateExhausted:
		return "exhausted"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EnumeratorOptions configures an Enumerator.
type EnumeratorOptions struct {
	// DefaultScanThreshold applies when the session has no scan_threshold
	// property. Zero means unlimited.
	DefaultScanThreshold int64

	Logger *zerolog.Logger
}

// Enumerator pulls tuples from a storage engine and shapes them into the
// caller's row layout. It is single-query and not safe for concurrent use.
//
// The row returned by Current is reused: it is valid only until the next
// call to MoveNext, and callers that keep rows must copy them.
type Enumerator struct {
	engine      StorageEngine
	realization Realization
	digest      *Digest
	session     Session
	columns     []string
	slots       map[string]int
	opts        EnumeratorOptions
	logger      zerolog.Logger

	sc       StorageContext
	prepared bool
	fallback FallbackResult

	state        enumState
	cursor       TupleIterator
	current      []interface{}
	shapeToken   uint64
	fieldIndexes []int
}

// NewEnumerator creates an unopened enumerator. columns names the output row
// slots; tuple fields are matched to them by name.
func NewEnumerator(engine StorageEngine, realization Realization, digest *Digest, session Session, columns []string, opts EnumeratorOptions) *Enumerator {
	logger := logging.Component("enumerator")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	slots := make(map[string]int, len(columns))
	for i, name := range columns {
		if _, dup := slots[name]; !dup {
			slots[name] = i
		}
	}
	return &Enumerator{
		engine:      engine,
		realization: realization,
		digest:      digest,
		session:     session,
		columns:     columns,
		slots:       slots,
		opts:        opts,
		logger:      logger,
		current:     make([]interface{}, len(columns)),
	}
}

// Columns returns the output row layout.
func (e *Enumerator) Columns() []string { return e.columns }

// Current returns the current row.
func (e *Enumerator) Current() []interface{} { return e.current }

// Digest returns the digest, including any fallback rewrite.
func (e *Enumerator) Digest() *Digest { return e.digest }

// StorageContext returns the context handed to the storage engine.
func (e *Enumerator) StorageContext() StorageContext { return e.sc }

// State returns the lifecycle state name.
func (e *Enumerator) State() string { return e.state.String() }

// Fallback reports what the no-group-by fallback did.
func (e *Enumerator) Fallback() FallbackResult { return e.fallback }

// MoveNext advances to the next row, starting the search on first call.
// A drained sequence or a nil tuple ends the enumeration. Search errors are
// returned unchanged.
func (e *Enumerator) MoveNext(ctx context.Context) (bool, error) {
	switch e.state {
	case stateClosed:
		return false, cerrors.NewQueryError(cerrors.CodeEnumeratorClosed, "enumerator is closed")
	case stateExhausted:
		return false, nil
	case stateUnopened:
		if err := e.open(ctx); err != nil {
			return false, err
		}
	}

	if !e.cursor.Next() {
		e.state = stateExhausted
		return false, e.cursor.Err()
	}
	tuple := e.cursor.Tuple()
	if tuple == nil {
		e.state = stateExhausted
		return false, nil
	}
	e.convertCurrentRow(tuple)
	return true, nil
}

// Reset discards the cursor and starts a fresh search.
func (e *Enumerator) Reset(ctx context.Context) error {
	if err := e.closeCursor(); err != nil {
		return err
	}
	e.state = stateUnopened
	return e.open(ctx)
}

// Close releases the tuple sequence. It is idempotent and safe in any state.
func (e *Enumerator) Close() error {
	err := e.closeCursor()
	e.state = stateClosed
	return err
}

func (e *Enumerator) closeCursor() error {
	if e.cursor == nil {
		return nil
	}
	err := e.cursor.Close()
	e.cursor = nil
	return err
}

func (e *Enumerator) open(ctx context.Context) error {
	if !e.prepared {
		if err := e.prepare(); err != nil {
			return err
		}
	}

	e.logger.Debug().Int64("scan_threshold", e.sc.ScanThreshold).Msg("query storage...")

	cursor, err := e.engine.Search(ctx, &e.sc, e.digest)
	if err != nil {
		return err
	}

	e.logger.Debug().Msg("return TupleIterator...")

	e.cursor = cursor
	e.shapeToken = 0
	e.fieldIndexes = nil
	e.state = stateOpen
	return nil
}

// prepare runs the per-query setup: scan threshold, variable binding and
// the no-group-by fallback.
func (e *Enumerator) prepare() error {
	threshold, err := e.scanThreshold()
	if err != nil {
		return err
	}
	e.sc.ScanThreshold = threshold

	if n := BindVariables(e.digest.Filter, e.session); n > 0 {
		e.logger.Debug().Int("bound", n).Msg("bound filter variables")
	}

	if e.realization != nil {
		e.fallback = ApplyNoGroupByFallback(e.digest, e.realization, e.logger)
	}
	e.prepared = true
	return nil
}

func (e *Enumerator) scanThreshold() (int64, error) {
	if e.session == nil {
		return e.opts.DefaultScanThreshold, nil
	}
	raw, ok := e.session.Property(PropScanThreshold)
	if !ok || raw == "" {
		return e.opts.DefaultScanThreshold, nil
	}
	v, err := parseThreshold(raw)
	if err != nil || v < 0 {
		return 0, cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeInvalidProperty,
			"invalid %s %q", PropScanThreshold, raw)
	}
	return v, nil
}

// convertCurrentRow copies tuple values into their output slots. The field
// index map is recomputed only when the tuple shape token changes; all
// tuples of one search are expected to share a shape.
func (e *Enumerator) convertCurrentRow(tuple Tuple) {
	shape := tuple.Shape()
	if shape == nil {
		return
	}
	if e.fieldIndexes == nil || shape.Token() != e.shapeToken {
		fields := shape.Fields()
		e.fieldIndexes = make([]int, len(fields))
		for i, name := range fields {
			idx, ok := e.slots[name]
			if !ok {
				idx = -1
			}
			e.fieldIndexes[i] = idx
		}
		e.shapeToken = shape.Token()
	}

	values := tuple.Values()
	for i, idx := range e.fieldIndexes {
		if idx >= 0 && i < len(values) {
			e.current[idx] = values[i]
		}
	}
}
