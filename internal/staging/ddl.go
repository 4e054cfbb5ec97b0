package staging

import (
	"fmt"
	"strings"
)

// Descriptor names the destination table and its primary key.
//
// PrimaryKey must be a non-empty list of schema columns. Setting NoPrimaryKey
// opts out explicitly: the PRIMARY KEY clause is omitted and, because OR IGNORE
// then has no constraint to act on, re-running a batch duplicates rows.
type Descriptor struct {
	Name         string
	PrimaryKey   []string
	NoPrimaryKey bool
}

// Validate checks the descriptor against a schema.
func (d Descriptor) Validate(s Schema) error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyTableName
	}
	if len(s) == 0 {
		return fmt.Errorf("%w: table %s", ErrNoColumns, d.Name)
	}
	if len(d.PrimaryKey) == 0 {
		if d.NoPrimaryKey {
			return nil
		}
		return fmt.Errorf("%w: table %s", ErrEmptyPrimaryKey, d.Name)
	}
	seen := make(map[string]bool, len(d.PrimaryKey))
	for _, k := range d.PrimaryKey {
		if _, ok := s.Index(k); !ok {
			return fmt.Errorf("%w: %q (table %s, columns %v)", ErrUnknownKeyColumn, k, d.Name, s.Names())
		}
		if seen[k] {
			return fmt.Errorf("%w: %q (table %s)", ErrDuplicateKey, k, d.Name)
		}
		seen[k] = true
	}
	return nil
}

// CreateTable builds the idempotent DDL for s:
//
//	CREATE TABLE IF NOT EXISTS <table>(<col> <type>, ..., PRIMARY KEY (<pk>, ...))
//
// Columns follow schema order, key columns follow descriptor order. MSSQL has
// no IF NOT EXISTS for tables and is guarded with OBJECT_ID instead.
func CreateTable(d Dialect, s Schema, desc Descriptor) (Statement, error) {
	if err := desc.Validate(s); err != nil {
		return Statement{}, err
	}

	parts := make([]string, 0, len(s)+1)
	for _, c := range s {
		typ := c.SQLType
		if typ == "" {
			typ = d.TypeName(c.Type)
		}
		parts = append(parts, d.Ident(c.Name)+" "+typ)
	}
	if len(desc.PrimaryKey) > 0 {
		keys := make([]string, len(desc.PrimaryKey))
		for i, k := range desc.PrimaryKey {
			keys[i] = d.Ident(k)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	table := d.Ident(desc.Name)
	body := table + "(" + strings.Join(parts, ", ") + ")"

	if d == MSSQL {
		guard := strings.ReplaceAll(desc.Name, "'", "''")
		return Raw(fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s", guard, body)), nil
	}
	return Raw("CREATE TABLE IF NOT EXISTS " + body), nil
}
