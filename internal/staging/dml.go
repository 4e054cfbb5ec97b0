package staging

import (
	"fmt"

	"autoprice/internal/dataset"
)

// InsertRows builds one idempotent insert per row of t, in row order.
//
// Values are positional (no column list), so s must be the schema the DDL was
// generated from. The table is checked against s before anything is emitted
// and every row is checked for arity and per-cell type.
//
// Duplicate primary keys are skipped, not reported:
//
//	sqlite   INSERT OR IGNORE INTO t VALUES (?, ?)
//	postgres INSERT INTO t VALUES ($1, $2) ON CONFLICT DO NOTHING
//	mysql    INSERT IGNORE INTO t VALUES (?, ?)
//	mssql    INSERT INTO t SELECT @p1, @p2 WHERE NOT EXISTS (SELECT 1 FROM t WHERE k = @p1)
func InsertRows(d Dialect, s Schema, t *dataset.Table, desc Descriptor) ([]Statement, error) {
	if err := desc.Validate(s); err != nil {
		return nil, err
	}
	if !s.Matches(t) {
		return nil, fmt.Errorf("%w: table %s has columns %v, schema has %v",
			ErrSchemaDrift, desc.Name, t.ColumnNames(), s.Names())
	}

	keyPos := make([]int, len(desc.PrimaryKey))
	for i, k := range desc.PrimaryKey {
		keyPos[i], _ = s.Index(k)
	}

	table := d.Ident(desc.Name)
	out := make([]Statement, 0, t.Len())
	for r, row := range t.Rows() {
		if err := checkRow(s, row); err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", desc.Name, r, err)
		}
		out = append(out, insertOne(d, table, s, row, desc.PrimaryKey, keyPos))
	}
	return out, nil
}

func insertOne(d Dialect, table string, s Schema, row []any, keys []string, keyPos []int) Statement {
	b := &builder{d: d, args: make([]any, 0, len(row))}

	switch d {
	case MSSQL:
		b.raw("INSERT INTO " + table + " SELECT ")
	case MySQL:
		b.raw("INSERT IGNORE INTO " + table + " VALUES (")
	case Postgres:
		b.raw("INSERT INTO " + table + " VALUES (")
	default:
		b.raw("INSERT OR IGNORE INTO " + table + " VALUES (")
	}

	for i, v := range row {
		if i > 0 {
			b.raw(", ")
		}
		b.bind(v)
	}

	switch d {
	case MSSQL:
		if len(keys) > 0 {
			b.raw(" WHERE NOT EXISTS (SELECT 1 FROM " + table + " WHERE ")
			for i, k := range keys {
				if i > 0 {
					b.raw(" AND ")
				}
				b.raw(d.Ident(k) + " = ")
				b.ref(keyPos[i])
			}
			b.raw(")")
		}
	case Postgres:
		b.raw(") ON CONFLICT DO NOTHING")
	default:
		b.raw(")")
	}
	return b.statement()
}

// checkRow asserts positional alignment between a row and the schema.
func checkRow(s Schema, row []any) error {
	if len(row) != len(s) {
		return fmt.Errorf("%w: %d values for %d columns", ErrArity, len(row), len(s))
	}
	for i, v := range row {
		if dataset.IsMissing(v) {
			continue
		}
		ok := false
		switch s[i].Type {
		case dataset.Int:
			_, ok = v.(int64)
		case dataset.Float:
			_, ok = v.(float64)
		case dataset.Text:
			_, ok = v.(string)
		}
		if !ok {
			return fmt.Errorf("%w: column %q is %s but value is %T", ErrSchemaDrift, s[i].Name, s[i].Type, v)
		}
	}
	return nil
}
