package staging

import (
	"math"
	"strconv"
	"strings"

	"autoprice/internal/dataset"
)

// Statement is one SQL command with its bound arguments.
//
// SQL holds dialect placeholders; Args are passed to the driver. The inline
// form returned by String substitutes literals for the placeholders and is
// meant for logs and dry runs, never for execution.
type Statement struct {
	SQL  string
	Args []any

	inline string
}

// Raw wraps a plain SQL string (DDL, scripts, ad-hoc commands).
func Raw(sql string) Statement {
	return Statement{SQL: sql, inline: sql}
}

// String returns the inline literal rendering.
func (s Statement) String() string {
	if s.inline == "" {
		return s.SQL
	}
	return s.inline
}

// builder writes the parameterised and the inline form side by side so the
// two can never disagree on value order.
type builder struct {
	d      Dialect
	sql    strings.Builder
	inline strings.Builder
	args   []any
}

func (b *builder) raw(s string) {
	b.sql.WriteString(s)
	b.inline.WriteString(s)
}

// bind appends a new argument.
func (b *builder) bind(v any) {
	if dataset.IsMissing(v) {
		v = nil
	}
	b.args = append(b.args, v)
	b.sql.WriteString(b.d.placeholder(len(b.args)))
	b.inline.WriteString(b.d.Literal(v))
}

// ref re-uses argument i (0-based) without appending a new one.
func (b *builder) ref(i int) {
	b.sql.WriteString(b.d.placeholder(i + 1))
	b.inline.WriteString(b.d.Literal(b.args[i]))
}

func (b *builder) statement() Statement {
	return Statement{SQL: b.sql.String(), Args: b.args, inline: b.inline.String()}
}

// Literal renders a canonical cell value as a SQL literal.
//
//   - missing (nil, NaN) → NULL
//   - float64 → shortest plain decimal (15000.5, never 1.50005e+04)
//   - string → single-quoted, embedded quotes doubled
//
// SQLite has no infinity literal; ±Inf render as ±9e999, which it reads back
// as infinity.
func (d Dialect) Literal(v any) string {
	if dataset.IsMissing(v) {
		return "NULL"
	}
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsInf(x, 1) {
			return "9e999"
		}
		if math.IsInf(x, -1) {
			return "-9e999"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		q := strings.ReplaceAll(x, "'", "''")
		switch d {
		case MySQL:
			q = strings.ReplaceAll(q, `\`, `\\`)
		case MSSQL:
			return "N'" + q + "'"
		}
		return "'" + q + "'"
	default:
		return "'" + strings.ReplaceAll(dataset.FormatValue(v), "'", "''") + "'"
	}
}
