package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"autoprice/internal/dataset"
	"autoprice/internal/metrics"
	"autoprice/internal/staging"
)

// SQLGateway implements Gateway on top of database/sql. The sqlite, mysql
// and mssql backends share it and differ only in how they open the pool.
type SQLGateway struct {
	db      *sql.DB
	dialect staging.Dialect
}

var _ Gateway = (*SQLGateway)(nil)

// NewSQLGateway wraps an open pool. The gateway owns db from here on.
func NewSQLGateway(db *sql.DB, d staging.Dialect) *SQLGateway {
	return &SQLGateway{db: db, dialect: d}
}

// OpenSQL opens driverName/dsn, applies maxOpen when positive and pings the
// pool before returning it.
func OpenSQL(ctx context.Context, driverName, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driverName, err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driverName, err)
	}
	return db, nil
}

func (g *SQLGateway) Dialect() staging.Dialect { return g.dialect }

func (g *SQLGateway) Close() error { return g.db.Close() }

// Execute runs stmts on one dedicated connection inside one transaction.
func (g *SQLGateway) Execute(ctx context.Context, stmts []staging.Statement) (res Result, err error) {
	if len(stmts) == 0 {
		return Result{}, nil
	}
	started := time.Now()
	defer func() {
		metrics.RecordStep("execute", started, err)
		metrics.RecordRecords("affected", res.RowsAffected)
	}()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("storage: acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for i, st := range stmts {
		r, execErr := tx.ExecContext(ctx, st.SQL, st.Args...)
		if execErr != nil {
			return Result{}, &ExecError{Index: i, Statement: st, Err: execErr}
		}
		// Some drivers cannot report affected rows for DDL; that is not a failure.
		if n, nerr := r.RowsAffected(); nerr == nil && n > 0 {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("storage: commit: %w", err)
	}
	return Result{Statements: len(stmts), RowsAffected: affected}, nil
}

// Query runs query on one dedicated connection and materializes every row.
func (g *SQLGateway) Query(ctx context.Context, query string, args ...any) (tbl *dataset.Table, err error) {
	started := time.Now()
	defer func() {
		metrics.RecordStep("query", started, err)
		if tbl != nil {
			metrics.RecordRecords("read", int64(tbl.Len()))
		}
	}()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("storage: column types: %w", err)
	}
	cols := make([]ResultColumn, len(types))
	for i, ct := range types {
		t, ok := DeclaredType(ct.DatabaseTypeName())
		cols[i] = ResultColumn{Name: ct.Name(), Type: t, Declared: ok}
	}

	var raw [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		raw = append(raw, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows: %w", err)
	}
	return Materialize(cols, raw)
}
