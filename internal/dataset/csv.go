package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes t with a header row. Missing cells are written empty.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("dataset: write header: %w", err)
	}
	rec := make([]string, t.Width())
	for _, row := range t.rows {
		for i, v := range row {
			rec[i] = FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("dataset: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
