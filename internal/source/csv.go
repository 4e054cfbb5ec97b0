// Package source turns raw dataset files (CSV exports, saved web pages with a
// results table) into typed dataset.Tables ready for staging.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"autoprice/internal/dataset"
)

// CSVOptions controls ReadCSV. The zero value reads comma-separated input with
// a header row and the default NA tokens.
type CSVOptions struct {
	// Comma defaults to ','.
	Comma rune

	// Renames maps a raw or normalized header to the final column name.
	Renames map[string]string

	// NATokens replaces DefaultNATokens when non-nil.
	NATokens []string

	// Types pins column types by final name. Cells that do not parse become
	// missing, like a coercing numeric conversion.
	Types map[string]dataset.ColumnType
}

// ReadCSV reads a headered CSV into a Table, inferring Int, Float or Text per
// column from its non-missing cells.
func ReadCSV(r io.Reader, opt CSVOptions) (*dataset.Table, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("source: csv is empty")
		}
		return nil, fmt.Errorf("source: read header: %w", err)
	}
	names := normalizeHeaders(header, opt.Renames)

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: read csv: %w", err)
		}
		rows = append(rows, rec)
	}

	tbl, err := buildTable(names, rows, opt.Types, newNASet(opt.NATokens))
	if err != nil {
		return nil, fmt.Errorf("source: csv: %w", err)
	}
	return tbl, nil
}
