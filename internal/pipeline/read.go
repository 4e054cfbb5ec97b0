package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/source"
)

// readDataset loads d's source and applies its fill_missing rules.
func (r *Runner) readDataset(ctx context.Context, d config.Dataset) (*dataset.Table, error) {
	raw, err := r.loader().Load(ctx, d.Source.Location)
	if err != nil {
		return nil, err
	}

	var tbl *dataset.Table
	switch d.Source.Kind {
	case "csv":
		opt, err := csvOptions(d.Source)
		if err != nil {
			return nil, err
		}
		tbl, err = source.ReadCSV(bytes.NewReader(raw), opt)
		if err != nil {
			return nil, err
		}
	case "html":
		tbl, err = source.ReadHTMLTable(bytes.NewReader(raw), source.HTMLTableOptions{
			Selector:  d.Source.Selector,
			Strip:     d.Source.Strip,
			Renames:   d.Source.Renames,
			Numeric:   d.Source.Numeric,
			Constants: d.Source.Constants,
			NATokens:  d.Source.NATokens,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported source kind %q", d.Source.Kind)
	}

	cols := make([]string, 0, len(d.FillMissing))
	for c := range d.FillMissing {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		if err := tbl.FillMissing(c, d.FillMissing[c]); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func csvOptions(s config.Source) (source.CSVOptions, error) {
	opt := source.CSVOptions{Renames: s.Renames, NATokens: s.NATokens}
	if s.Comma != "" {
		r, _ := utf8.DecodeRuneInString(s.Comma)
		opt.Comma = r
	}
	if len(s.Types) > 0 {
		opt.Types = make(map[string]dataset.ColumnType, len(s.Types))
		for col, name := range s.Types {
			t, err := dataset.ParseColumnType(name)
			if err != nil {
				return opt, err
			}
			opt.Types[col] = t
		}
	}
	return opt, nil
}
