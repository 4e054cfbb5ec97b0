package source

import (
	"fmt"
	"strconv"
	"strings"

	"autoprice/internal/dataset"
)

// DefaultNATokens are the cell values read as missing when no list is given.
var DefaultNATokens = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "None", "#N/A"}

type naSet map[string]struct{}

func newNASet(tokens []string) naSet {
	if tokens == nil {
		tokens = DefaultNATokens
	}
	s := make(naSet, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

func (s naSet) missing(v string) bool {
	_, ok := s[strings.TrimSpace(v)]
	return ok
}

// inferType picks the narrowest of Int, Float, Text that every non-missing
// cell of column col parses as. A column with no values is Text.
func inferType(rows [][]string, col int, na naSet) dataset.ColumnType {
	seen, allInt, allFloat := false, true, true
	for _, r := range rows {
		v := strings.TrimSpace(r[col])
		if na.missing(v) {
			continue
		}
		seen = true
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if !allInt && !allFloat {
			return dataset.Text
		}
	}
	switch {
	case !seen:
		return dataset.Text
	case allInt:
		return dataset.Int
	default:
		return dataset.Float
	}
}

// parseCell converts one raw cell. With coerce set, a cell that does not parse
// as the column type becomes missing instead of an error.
func parseCell(v string, t dataset.ColumnType, na naSet, coerce bool) (any, error) {
	v = strings.TrimSpace(v)
	if na.missing(v) {
		return nil, nil
	}
	switch t {
	case dataset.Int:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
		// "2001.0" in an explicitly int column.
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if c, cerr := dataset.Coerce(dataset.Int, f); cerr == nil {
				return c, nil
			}
		}
	case dataset.Float:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	default:
		return v, nil
	}
	if coerce {
		return nil, nil
	}
	return nil, fmt.Errorf("cannot parse %q as %s", v, t)
}

// buildTable types each column (explicit types win over inference) and fills
// a Table. rows must already be rectangular.
func buildTable(headers []string, rows [][]string, explicit map[string]dataset.ColumnType, na naSet) (*dataset.Table, error) {
	cols := make([]dataset.Column, len(headers))
	forced := make([]bool, len(headers))
	for i, h := range headers {
		t, ok := explicit[h]
		if !ok {
			t = inferType(rows, i, na)
		}
		cols[i] = dataset.Column{Name: h, Type: t}
		forced[i] = ok
	}

	tbl, err := dataset.New(cols...)
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	for ri, r := range rows {
		for i, c := range cols {
			v, err := parseCell(r[i], c.Type, na, forced[i])
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", ri+1, c.Name, err)
			}
			vals[i] = v
		}
		if err := tbl.Append(vals...); err != nil {
			return nil, fmt.Errorf("row %d: %w", ri+1, err)
		}
	}
	return tbl, nil
}

// normalizeHeaders normalizes every header and applies renames, which may be
// keyed by the raw or the normalized header.
func normalizeHeaders(raw []string, renames map[string]string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		if to, ok := renames[strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))]; ok {
			out[i] = to
			continue
		}
		n := dataset.NormalizeName(h)
		if to, ok := renames[n]; ok {
			n = to
		}
		if n == "" {
			n = fmt.Sprintf("column_%d", i+1)
		}
		out[i] = n
	}
	return out
}
