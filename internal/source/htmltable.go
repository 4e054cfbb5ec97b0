package source

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"autoprice/internal/dataset"
)

// Constant is a column added to every row of an HTML table (e.g. year=2024
// for a single-year sales report).
type Constant struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTMLTableOptions controls ReadHTMLTable.
type HTMLTableOptions struct {
	// Selector picks the table; the first match is used. Defaults to "table".
	Selector string

	// Strip lists substrings removed from a cell when what remains parses as
	// a number ("12,345" → 12345, "-3.1%" → -3.1). Defaults to "," and "%".
	Strip []string

	// Renames maps a raw or normalized header to the final column name.
	Renames map[string]string

	// Numeric lists columns coerced to Float; unparseable cells become missing.
	Numeric []string

	Constants []Constant

	// NATokens replaces DefaultNATokens when non-nil.
	NATokens []string
}

// ReadHTMLTable extracts one table from an HTML document. The first row's
// cells (th or td) are the header; rows whose cell count differs from the
// header are skipped.
func ReadHTMLTable(r io.Reader, opt HTMLTableOptions) (*dataset.Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("source: parse html: %w", err)
	}

	sel := opt.Selector
	if strings.TrimSpace(sel) == "" {
		sel = "table"
	}
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("source: no table matches %q", sel)
	}

	strip := opt.Strip
	if strip == nil {
		strip = []string{",", "%"}
	}

	var header []string
	var rows [][]string
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, cleanCell(td.Text()))
		})
		if header == nil {
			header = cells
			return
		}
		if len(cells) != len(header) {
			return
		}
		for j, c := range cells {
			cells[j] = stripNumeric(c, strip)
		}
		rows = append(rows, cells)
	})
	if len(header) == 0 {
		return nil, fmt.Errorf("source: table %q has no header row", sel)
	}

	names := normalizeHeaders(header, opt.Renames)
	for _, c := range opt.Constants {
		names = append(names, c.Name)
		for i := range rows {
			rows[i] = append(rows[i], c.Value)
		}
	}

	explicit := make(map[string]dataset.ColumnType, len(opt.Numeric))
	for _, n := range opt.Numeric {
		explicit[n] = dataset.Float
	}

	tbl, err := buildTable(names, rows, explicit, newNASet(opt.NATokens))
	if err != nil {
		return nil, fmt.Errorf("source: html table: %w", err)
	}
	return tbl, nil
}

// cleanCell drops non-breaking spaces and surrounding whitespace.
func cleanCell(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

func stripNumeric(s string, strip []string) string {
	out := s
	for _, x := range strip {
		out = strings.ReplaceAll(out, x, "")
	}
	out = strings.ReplaceAll(out, " ", "")
	if out == s || out == "" {
		return s
	}
	if _, err := strconv.ParseFloat(out, 64); err != nil {
		return s
	}
	return out
}
