package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"autoprice/internal/dataset"
	"autoprice/internal/metrics"
	"autoprice/internal/staging"
	"autoprice/internal/storage"
)

func init() {
	storage.Register("postgres", Open)
}

// Gateway implements storage.Gateway for Postgres on a pgx pool.
type Gateway struct {
	pool *pgxpool.Pool
}

var _ storage.Gateway = (*Gateway)(nil)

// Open creates the pool for cfg.DSN and pings it.
func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is empty")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.Database != "" && pcfg.ConnConfig.Database == "" {
		pcfg.ConnConfig.Database = cfg.Database
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

func (g *Gateway) Dialect() staging.Dialect { return staging.Postgres }

func (g *Gateway) Close() error {
	g.pool.Close()
	return nil
}

// Execute runs stmts in one transaction on one acquired connection.
func (g *Gateway) Execute(ctx context.Context, stmts []staging.Statement) (res storage.Result, err error) {
	if len(stmts) == 0 {
		return storage.Result{}, nil
	}
	started := time.Now()
	defer func() {
		metrics.RecordStep("execute", started, err)
		metrics.RecordRecords("affected", res.RowsAffected)
	}()

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return storage.Result{}, fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return storage.Result{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var affected int64
	for i, st := range stmts {
		tag, execErr := tx.Exec(ctx, st.SQL, st.Args...)
		if execErr != nil {
			return storage.Result{}, &storage.ExecError{Index: i, Statement: st, Err: execErr}
		}
		affected += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Result{}, fmt.Errorf("postgres: commit: %w", err)
	}
	return storage.Result{Statements: len(stmts), RowsAffected: affected}, nil
}

// Query materializes the full result of query.
func (g *Gateway) Query(ctx context.Context, query string, args ...any) (tbl *dataset.Table, err error) {
	started := time.Now()
	defer func() {
		metrics.RecordStep("query", started, err)
		if tbl != nil {
			metrics.RecordRecords("read", int64(tbl.Len()))
		}
	}()

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]storage.ResultColumn, len(fields))
	for i, f := range fields {
		t, ok := columnType(f.DataTypeOID)
		cols[i] = storage.ResultColumn{Name: f.Name, Type: t, Declared: ok}
	}

	var raw [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: values: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		raw = append(raw, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return storage.Materialize(cols, raw)
}

func columnType(oid uint32) (dataset.ColumnType, bool) {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return dataset.Int, true
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return dataset.Float, true
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID:
		return dataset.Text, true
	}
	return dataset.Text, false
}

// normalize turns pgx decoded values that the storage layer does not know
// into plain Go values.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid || x.NaN {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return v
}
