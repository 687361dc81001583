// Package search implements the storage search contract over a SQLite fact
// table. Grouping and aggregation run in Go through the measure registry,
// so every measure type the cube declares is computed by its own
// aggregator rather than by SQL.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	cerrors "github.com/arkilian/cubecore/internal/errors"
	"github.com/arkilian/cubecore/internal/logging"
	"github.com/arkilian/cubecore/internal/measure"
	"github.com/arkilian/cubecore/internal/query"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Options configures a SQLiteEngine.
type Options struct {
	// Registry resolves aggregation functions. Nil means measure.Default().
	Registry *measure.Registry
	Logger   *zerolog.Logger
}

// SQLiteEngine answers query digests from a SQLite database.
type SQLiteEngine struct {
	db       *sql.DB
	ownsDB   bool
	registry *measure.Registry
	logger   zerolog.Logger
}

// Open opens the existing database at path read-only.
func Open(path string, opts Options) (*SQLiteEngine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("search: fact database: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("search: failed to open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("search: failed to open %s: %w", path, err)
	}
	e, err := New(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.ownsDB = true
	return e, nil
}

// New creates an engine over an existing database handle. The caller keeps
// ownership of db.
func New(db *sql.DB, opts Options) (*SQLiteEngine, error) {
	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = measure.Default(); err != nil {
			return nil, err
		}
	}
	logger := logging.Component("search")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &SQLiteEngine{db: db, registry: registry, logger: logger}, nil
}

// DB returns the underlying database handle.
func (e *SQLiteEngine) DB() *sql.DB { return e.db }

// Close closes the database if the engine opened it.
func (e *SQLiteEngine) Close() error {
	if e.ownsDB {
		return e.db.Close()
	}
	return nil
}

// Search scans the digest's fact table. A digest with grouping, metrics or
// aggregations yields one tuple per group; otherwise rows stream lazily.
// Scanning more rows than sc.ScanThreshold fails the search.
func (e *SQLiteEngine) Search(ctx context.Context, sc *query.StorageContext, d *query.Digest) (query.TupleIterator, error) {
	if d.FactTable == "" {
		return nil, cerrors.NewQueryError(cerrors.CodeSearchFailed, "digest has no fact table")
	}
	where, args, err := renderFilter(d.Filter)
	if err != nil {
		return nil, err
	}
	var threshold int64
	if sc != nil {
		threshold = sc.ScanThreshold
	}

	if !d.HasAggregation() && len(d.Aggregations) == 0 {
		return e.searchRaw(ctx, d, where, args, threshold)
	}
	return e.searchAggregated(ctx, d, where, args, threshold)
}

func (e *SQLiteEngine) searchRaw(ctx context.Context, d *query.Digest, where string, args []interface{}, threshold int64) (query.TupleIterator, error) {
	columns := make([]string, len(d.AllColumns))
	for i, c := range d.AllColumns {
		columns[i] = c.Name
	}
	stmt := selectSQL(d.FactTable, columns, where)
	e.logger.Debug().Str("sql", stmt).Msg("raw scan")

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "fact table scan failed", err)
	}
	names, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "fact table scan failed", err)
	}
	return newRowIterator(rows, query.NewTupleShape(names...), threshold), nil
}

func (e *SQLiteEngine) searchAggregated(ctx context.Context, d *query.Digest, where string, args []interface{}, threshold int64) (query.TupleIterator, error) {
	plan, err := newAggPlan(d, e.registry)
	if err != nil {
		return nil, err
	}
	stmt := selectSQL(d.FactTable, plan.selectCols, where)
	e.logger.Debug().Str("sql", stmt).Int("groups_by", len(plan.groupIdx)).
		Int("aggregations", len(plan.aggs)).Msg("aggregating scan")

	rows, err := e.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "fact table scan failed", err)
	}
	defer rows.Close()

	values := make([]interface{}, len(plan.selectCols))
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}

	groups := newGroupTable(plan)
	var scanned int64
	for rows.Next() {
		scanned++
		if threshold > 0 && scanned > threshold {
			return nil, thresholdExceeded(threshold)
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "row scan failed", err)
		}
		if err := groups.add(values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "fact table scan failed", err)
	}

	tuples := groups.tuples()
	e.logger.Debug().Int64("scanned", scanned).Int("groups", len(tuples)).Msg("aggregation done")
	return query.NewSliceIterator(tuples...), nil
}

func thresholdExceeded(threshold int64) error {
	return cerrors.Newf(cerrors.ErrCategoryQuery, cerrors.CodeScanThresholdExceeded,
		"scan exceeded threshold of %d rows", threshold)
}
