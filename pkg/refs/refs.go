// Package refs keeps application rows pointing at files in sync with
// renames and moves.
//
// Rows reference a file by storing its field value in a column of type
// "File". The package does not own those rows; it finds the columns through
// a ColumnSource and rewrites matching values by equality, or by prefix for
// directories.
package refs

import (
	"context"
	"database/sql"
	"fmt"
	"unicode/utf8"

	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/sqldb"
)

// Column is one File-typed column.
type Column struct {
	Table  string
	Column string
}

// ColumnSource lists the File-typed columns of a tenant.
type ColumnSource interface {
	FileColumns(ctx context.Context, tenant string) ([]Column, error)
}

// StaticColumns is a fixed column list.
type StaticColumns []Column

func (s StaticColumns) FileColumns(context.Context, string) ([]Column, error) {
	return s, nil
}

// SQLColumns reads the field catalogue tables "_sc_tables" and "_sc_fields".
type SQLColumns struct {
	DB *sqldb.DB
}

func (s SQLColumns) FileColumns(ctx context.Context, tenant string) ([]Column, error) {
	q := s.DB.Rebind("SELECT t.name, f.name FROM " + s.DB.Table(tenant, "_sc_fields") + " f" +
		" JOIN " + s.DB.Table(tenant, "_sc_tables") + " t ON t.id = f.table_id" +
		" WHERE f.type = $1 ORDER BY t.name, f.name")

	rows, err := s.DB.QueryContext(ctx, q, "File")
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Table, &c.Column); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Rewriter updates references in one transaction per call.
type Rewriter struct {
	db      *sqldb.DB
	columns ColumnSource
}

// NewRewriter returns a Rewriter over db.
func NewRewriter(db *sqldb.DB, columns ColumnSource) *Rewriter {
	return &Rewriter{db: db, columns: columns}
}

// UpdateReferences replaces oldValue with newValue in every File column of
// the tenant. For directories, every value below oldValue is re-rooted under
// newValue instead. Either all columns are updated or none is.
//
// It returns the number of rows changed.
func (r *Rewriter) UpdateReferences(ctx context.Context, tenant, oldValue, newValue string, isDir bool) (int64, error) {
	if r == nil || oldValue == newValue {
		return 0, nil
	}

	cols, err := r.columns.FileColumns(ctx, tenant)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, c := range cols {
		n, err := r.rewrite(ctx, tx, tenant, c, oldValue, newValue, isDir)
		if err != nil {
			return 0, fmt.Errorf("update %s.%s: %w", c.Table, c.Column, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	logger.Debug("Updated %d references %q -> %q in tenant %s", total, oldValue, newValue, tenant)
	return total, nil
}

func (r *Rewriter) rewrite(ctx context.Context, tx *sql.Tx, tenant string, c Column, oldValue, newValue string, isDir bool) (int64, error) {
	tbl := r.db.Table(tenant, c.Table)
	col := sqldb.QuoteIdent(c.Column)

	var (
		q    string
		args []any
	)
	if isDir {
		oldPrefix := oldValue + "/"
		n := utf8.RuneCountInString(oldPrefix)
		q = "UPDATE " + tbl + " SET " + col + " = CAST($1 AS TEXT) || substr(" + col + ", $2)" +
			" WHERE substr(" + col + ", 1, $3) = $4"
		args = []any{newValue + "/", n + 1, n, oldPrefix}
	} else {
		q = "UPDATE " + tbl + " SET " + col + " = $1 WHERE " + col + " = $2"
		args = []any{newValue, oldValue}
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	// Drivers without row counts report zero.
	n, _ := res.RowsAffected()
	return n, nil
}
