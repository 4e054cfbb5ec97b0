package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"autoprice/internal/dataset"
)

// ResultColumn describes one column of a query result as reported by the
// driver. Declared is false when the engine gave no type (SQLite expressions,
// aggregates); the column type is then inferred from the values.
type ResultColumn struct {
	Name     string
	Type     dataset.ColumnType
	Declared bool
}

// DeclaredType classifies a declared column type name using SQLite's
// affinity rules, which also cover the common MySQL and SQL Server names:
//
//	contains INT                 → Int
//	contains CHAR, CLOB or TEXT  → Text
//	contains REAL, FLOA or DOUB  → Float
//	anything else non-empty      → Float (numeric affinity)
//
// The last rule also catches DATE, TIMESTAMP, BOOLEAN and similar names. Their
// values usually arrive as time.Time or text, so Materialize widens such
// columns to Text. An empty name reports ok=false.
func DeclaredType(name string) (t dataset.ColumnType, ok bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case n == "":
		return dataset.Text, false
	case strings.Contains(n, "INT"):
		return dataset.Int, true
	case strings.Contains(n, "CHAR"), strings.Contains(n, "CLOB"), strings.Contains(n, "TEXT"):
		return dataset.Text, true
	case strings.Contains(n, "REAL"), strings.Contains(n, "FLOA"), strings.Contains(n, "DOUB"):
		return dataset.Float, true
	default:
		return dataset.Float, true
	}
}

// Materialize turns raw driver rows into a Table.
//
// A declared column keeps its type unless a value does not fit, in which case
// it widens Int → Float → Text (SQLite lets any column hold any value).
// An undeclared column takes the narrowest type its values fit, judged by
// their Go kind, so a text value that looks like a number stays text.
//
// Result names repeated by a join get a numeric suffix (year, year_1) and a
// blank name becomes column_<position>; column order is kept.
func Materialize(cols []ResultColumn, rows [][]any) (*dataset.Table, error) {
	names := uniqueNames(cols)
	out := make([]dataset.Column, len(cols))
	for j, c := range cols {
		t := c.Type
		if !c.Declared {
			t = inferKind(rows, j)
		}
		for t != dataset.Text && !columnFits(rows, j, t) {
			t = widen(t)
		}
		out[j] = dataset.Column{Name: names[j], Type: t}
	}

	tbl, err := dataset.New(out...)
	if err != nil {
		return nil, fmt.Errorf("storage: result columns: %w", err)
	}
	for i, raw := range rows {
		if len(raw) != len(out) {
			return nil, fmt.Errorf("storage: row %d has %d values, want %d", i, len(raw), len(out))
		}
		vals := make([]any, len(raw))
		for j, v := range raw {
			vals[j], _ = convert(v, out[j].Type)
		}
		if err := tbl.Append(vals...); err != nil {
			return nil, fmt.Errorf("storage: row %d: %w", i, err)
		}
	}
	return tbl, nil
}

func uniqueNames(cols []ResultColumn) []string {
	taken := make(map[string]bool, len(cols))
	for _, c := range cols {
		taken[c.Name] = true
	}
	seen := make(map[string]bool, len(cols))
	out := make([]string, len(cols))
	for j, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = fmt.Sprintf("column_%d", j)
		}
		if seen[name] {
			base := name
			for n := 1; seen[name] || taken[name]; n++ {
				name = fmt.Sprintf("%s_%d", base, n)
			}
		}
		seen[name] = true
		out[j] = name
	}
	return out
}

func widen(t dataset.ColumnType) dataset.ColumnType {
	if t == dataset.Int {
		return dataset.Float
	}
	return dataset.Text
}

func columnFits(rows [][]any, j int, t dataset.ColumnType) bool {
	for _, r := range rows {
		if j >= len(r) {
			continue
		}
		if _, ok := convert(r[j], t); !ok {
			return false
		}
	}
	return true
}

func inferKind(rows [][]any, j int) dataset.ColumnType {
	t, seen := dataset.Int, false
	for _, r := range rows {
		if j >= len(r) || dataset.IsMissing(r[j]) {
			continue
		}
		seen = true
		switch v := r[j].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		case float32, float64:
			t = dataset.Float
		case []byte:
			if _, err := strconv.ParseInt(string(v), 10, 64); err == nil {
				continue
			}
			if _, err := strconv.ParseFloat(string(v), 64); err == nil {
				t = dataset.Float
				continue
			}
			return dataset.Text
		default:
			return dataset.Text
		}
	}
	if !seen {
		return dataset.Text
	}
	return t
}

// convert maps one driver value onto the canonical value for t.
func convert(v any, t dataset.ColumnType) (any, bool) {
	if dataset.IsMissing(v) {
		return nil, true
	}
	switch t {
	case dataset.Int:
		return toInt(v)
	case dataset.Float:
		return toFloat(v)
	default:
		return toText(v), true
	}
}

func toInt(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case []byte:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	case float32:
		return integral(float64(x))
	case float64:
		return integral(x)
	}
	if c, err := dataset.Coerce(dataset.Int, v); err == nil {
		return c, true
	}
	return nil, false
}

func toFloat(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1.0, true
		}
		return 0.0, true
	case []byte:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	}
	if c, err := dataset.Coerce(dataset.Float, v); err == nil {
		return c, true
	}
	return nil, false
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return dataset.FormatValue(v)
}

func integral(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, false
	}
	return int64(f), true
}

func parseInt(s string) (any, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

func parseFloat(s string) (any, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, false
	}
	return f, true
}
