package search

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arkilian/cubecore/internal/cuboid"
	cerrors "github.com/arkilian/cubecore/internal/errors"
)

// TableSource scans dimension values from a fact table for statistics
// collection. A source may cover one rowid-modulo partition of the table.
type TableSource struct {
	db         *sql.DB
	table      string
	columns    []string
	partition  int
	partitions int
}

// NewTableSource scans the whole table.
func NewTableSource(db *sql.DB, table string, columns []string) *TableSource {
	return &TableSource{db: db, table: table, columns: columns, partitions: 1}
}

// PartitionedSources splits the table into n sources by rowid.
func PartitionedSources(db *sql.DB, table string, columns []string, n int) []cuboid.RowSource {
	if n < 1 {
		n = 1
	}
	out := make([]cuboid.RowSource, n)
	for i := 0; i < n; i++ {
		out[i] = &TableSource{db: db, table: table, columns: columns, partition: i, partitions: n}
	}
	return out
}

// Scan calls fn with the row's column values, NULL as the empty string. The
// slice is reused between calls.
func (s *TableSource) Scan(ctx context.Context, fn func(row []string) error) error {
	where := ""
	if s.partitions > 1 {
		where = fmt.Sprintf("rowid %% %d = %d", s.partitions, s.partition)
	}
	stmt := selectSQL(s.table, s.columns, where)

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "fact table scan failed", err)
	}
	defer rows.Close()

	values := make([]interface{}, len(s.columns))
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	row := make([]string, len(values))

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return cerrors.Wrap(cerrors.ErrCategoryQuery, cerrors.CodeSearchFailed, "row scan failed", err)
		}
		for i, v := range values {
			row[i] = formatValue(v)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
