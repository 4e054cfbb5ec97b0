package staging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"autoprice/internal/dataset"
)

// Dialect selects the SQL flavour emitted by the generators.
//
// SQLite is the zero value and the reference dialect: its type names are
// exactly int, float and text, and it supports CREATE TABLE IF NOT EXISTS and
// INSERT OR IGNORE natively. The other dialects express the same semantics in
// their own syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
	MySQL
	MSSQL
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case MSSQL:
		return "mssql"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// ParseDialect maps a storage kind to a Dialect.
func ParseDialect(kind string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "mssql", "sqlserver":
		return MSSQL, nil
	}
	return SQLite, fmt.Errorf("staging: unknown dialect %q", kind)
}

// TypeName maps a coarse column type to the dialect's column type.
//
// Text types in MySQL and MSSQL carry a length because those engines refuse
// unbounded text in a primary key.
func (d Dialect) TypeName(t dataset.ColumnType) string {
	switch d {
	case Postgres:
		switch t {
		case dataset.Int:
			return "bigint"
		case dataset.Float:
			return "double precision"
		}
		return "text"
	case MySQL:
		switch t {
		case dataset.Int:
			return "bigint"
		case dataset.Float:
			return "double"
		}
		return "varchar(255)"
	case MSSQL:
		switch t {
		case dataset.Int:
			return "bigint"
		case dataset.Float:
			return "float"
		}
		return "nvarchar(450)"
	default:
		return t.String()
	}
}

var bareIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reserved holds words that are keywords in at least one supported dialect
// and therefore always get quoted.
var reserved = map[string]bool{
	"add": true, "all": true, "alter": true, "and": true, "as": true, "asc": true,
	"between": true, "by": true, "case": true, "check": true, "column": true,
	"constraint": true, "create": true, "cross": true, "default": true,
	"delete": true, "desc": true, "distinct": true, "drop": true, "else": true,
	"end": true, "exists": true, "foreign": true, "from": true, "full": true,
	"group": true, "having": true, "if": true, "in": true, "index": true,
	"inner": true, "insert": true, "into": true, "is": true, "join": true,
	"key": true, "left": true, "like": true, "limit": true, "not": true,
	"null": true, "on": true, "or": true, "order": true, "outer": true,
	"primary": true, "references": true, "right": true, "select": true,
	"set": true, "table": true, "then": true, "to": true, "union": true,
	"unique": true, "update": true, "user": true, "using": true, "values": true,
	"when": true, "where": true, "with": true,
}

// Ident renders an identifier. Dotted names are treated as qualified
// (schema.table) and each part is rendered separately. Plain lowercase names
// that are not keywords stay bare; everything else is quoted.
func (d Dialect) Ident(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.identPart(p)
	}
	return strings.Join(parts, ".")
}

func (d Dialect) identPart(p string) string {
	if bareIdent.MatchString(p) && !reserved[p] {
		return p
	}
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(p, "`", "``") + "`"
	case MSSQL:
		return "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) placeholder(n int) string {
	switch d {
	case Postgres:
		return "$" + strconv.Itoa(n)
	case MSSQL:
		return "@p" + strconv.Itoa(n)
	default:
		return "?"
	}
}
