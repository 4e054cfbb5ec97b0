// Package dataset defines the in-memory tabular structure that flows through
// the pipeline: ordered, typed columns and ordered rows of canonical values.
//
// Cell values are always one of:
//   - int64   (Int columns)
//   - float64 (Float columns)
//   - string  (Text columns)
//   - nil     (missing, in any column)
//
// Missing values are structural. A NaN handed to Append is stored as nil, so
// nothing downstream ever has to recognise a "nan" token.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrArity is returned when a row does not have one value per column.
	ErrArity = errors.New("dataset: row arity does not match column count")
	// ErrUnknownColumn is returned when a column name is not part of the table.
	ErrUnknownColumn = errors.New("dataset: unknown column")
)

// ColumnType is the coarse element type of a column.
type ColumnType int

const (
	Text ColumnType = iota
	Int
	Float
)

// String returns the SQL-ish name used by the schema inferencer.
func (t ColumnType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	default:
		return "text"
	}
}

// ParseColumnType accepts the names String returns plus a few aliases used in
// config files.
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "bigint":
		return Int, nil
	case "float", "double", "real", "numeric":
		return Float, nil
	case "text", "string":
		return Text, nil
	}
	return Text, fmt.Errorf("dataset: unknown column type %q", s)
}

// Column is a named, typed column.
type Column struct {
	Name string
	Type ColumnType
}

// Table is an ordered set of uniquely named columns plus ordered rows.
//
// Table is not safe for concurrent mutation.
type Table struct {
	cols  []Column
	index map[string]int
	rows  [][]any
}

// New builds an empty table. Column names must be non-empty and unique.
func New(cols ...Column) (*Table, error) {
	t := &Table{
		cols:  make([]Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("dataset: column %d has an empty name", i)
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", name)
		}
		t.index[name] = i
		t.cols = append(t.cols, Column{Name: name, Type: c.Type})
	}
	return t, nil
}

// MustNew is New for statically known column sets; it panics on error.
func MustNew(cols ...Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// Columns returns a copy of the column list in order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Width is the number of columns.
func (t *Table) Width() int { return len(t.cols) }

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Index returns the position of a column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Row returns row i. The slice is shared with the table and must not be
// modified by the caller.
func (t *Table) Row(i int) []any { return t.rows[i] }

// Rows returns all rows. Same sharing rule as Row.
func (t *Table) Rows() [][]any { return t.rows }

// Append coerces vals to the column types and appends them as one row.
func (t *Table) Append(vals ...any) error {
	if len(vals) != len(t.cols) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrArity, len(vals), len(t.cols))
	}
	row := make([]any, len(vals))
	for i, v := range vals {
		cv, err := Coerce(t.cols[i].Type, v)
		if err != nil {
			return fmt.Errorf("dataset: row %d column %q: %w", len(t.rows), t.cols[i].Name, err)
		}
		row[i] = cv
	}
	t.rows = append(t.rows, row)
	return nil
}

// Value returns the cell at (row, column name).
func (t *Table) Value(row int, column string) (any, error) {
	i, ok := t.index[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if row < 0 || row >= len(t.rows) {
		return nil, fmt.Errorf("dataset: row %d out of range [0,%d)", row, len(t.rows))
	}
	return t.rows[row][i], nil
}

// Column returns a copy of every value in the named column.
func (t *Table) Column(name string) ([]any, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	out := make([]any, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out, nil
}

// FillMissing replaces every missing cell in column with v (coerced to the
// column type).
func (t *Table) FillMissing(column string, v any) error {
	i, ok := t.index[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	cv, err := Coerce(t.cols[i].Type, v)
	if err != nil {
		return fmt.Errorf("dataset: fill %q: %w", column, err)
	}
	for _, row := range t.rows {
		if row[i] == nil {
			row[i] = cv
		}
	}
	return nil
}
