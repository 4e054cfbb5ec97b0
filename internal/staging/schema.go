// Package staging turns a dataset.Table into the SQL needed to stage it:
// an inferred schema, a CREATE TABLE IF NOT EXISTS statement and one
// idempotent insert per row.
//
// Statements carry bound arguments for execution and an inline literal form
// for logs and dry runs. Only identifiers are ever templated into SQL text.
package staging

import (
	"errors"

	"autoprice/internal/dataset"
)

var (
	ErrEmptyTableName   = errors.New("staging: table name is empty")
	ErrNoColumns        = errors.New("staging: schema has no columns")
	ErrEmptyPrimaryKey  = errors.New("staging: primary key column set is empty")
	ErrUnknownKeyColumn = errors.New("staging: primary key column not in schema")
	ErrDuplicateKey     = errors.New("staging: primary key column listed twice")
	ErrSchemaDrift      = errors.New("staging: table no longer matches the inferred schema")
	ErrArity            = errors.New("staging: row arity does not match schema")
)

// ColumnDef is one inferred column.
type ColumnDef struct {
	Name    string
	Type    dataset.ColumnType
	SQLType string
}

// Schema is the ordered column mapping inferred from a table.
type Schema []ColumnDef

// InferSchema maps each column of t to its SQL type name (int, float, text),
// preserving column order. A table without columns yields an empty schema.
func InferSchema(t *dataset.Table) Schema {
	return InferSchemaFor(SQLite, t)
}

// InferSchemaFor is InferSchema with dialect-specific type names.
func InferSchemaFor(d Dialect, t *dataset.Table) Schema {
	cols := t.Columns()
	out := make(Schema, 0, len(cols))
	for _, c := range cols {
		out = append(out, ColumnDef{Name: c.Name, Type: c.Type, SQLType: d.TypeName(c.Type)})
	}
	return out
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of a column in the schema.
func (s Schema) Index(name string) (int, bool) {
	for i, c := range s {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Matches reports whether t still has exactly the columns (names, types,
// order) the schema was inferred from.
func (s Schema) Matches(t *dataset.Table) bool {
	cols := t.Columns()
	if len(cols) != len(s) {
		return false
	}
	for i, c := range cols {
		if c.Name != s[i].Name || c.Type != s[i].Type {
			return false
		}
	}
	return true
}
