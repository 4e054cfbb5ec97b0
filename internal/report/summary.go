// Package report shapes the staged dashboard query into the per-year series
// the dashboard views plot, and tracks which view is selected.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"autoprice/internal/dataset"
)

// PriceDifference is added by YearSummary when both SellingPrice and MMR are
// present: the mean selling price minus the mean market report value.
const (
	PriceDifference = "price_difference"
	SellingPrice    = "sellingprice"
	MMR             = "mmr"
)

// ErrYearColumn is returned when the year column is missing or not numeric.
var ErrYearColumn = errors.New("report: bad year column")

type yearAcc struct {
	sums   []float64
	counts []int
}

// YearSummary groups t by yearCol and averages every Float column other than
// yearCol. Missing cells are skipped; a group with no values for a column
// yields a missing mean. Rows with a missing year are dropped. Years come out
// ascending.
func YearSummary(t *dataset.Table, yearCol string) (*dataset.Table, error) {
	yi, ok := t.Index(yearCol)
	if !ok {
		return nil, fmt.Errorf("%w: %q not found", ErrYearColumn, yearCol)
	}
	cols := t.Columns()
	if cols[yi].Type == dataset.Text {
		return nil, fmt.Errorf("%w: %q is text", ErrYearColumn, yearCol)
	}

	var floats []int
	for i, c := range cols {
		if i != yi && c.Type == dataset.Float {
			floats = append(floats, i)
		}
	}

	groups := make(map[int64]*yearAcc)
	for _, row := range t.Rows() {
		year, ok := yearOf(row[yi])
		if !ok {
			continue
		}
		acc := groups[year]
		if acc == nil {
			acc = &yearAcc{sums: make([]float64, len(floats)), counts: make([]int, len(floats))}
			groups[year] = acc
		}
		for j, ci := range floats {
			if f, ok := row[ci].(float64); ok {
				acc.sums[j] += f
				acc.counts[j]++
			}
		}
	}

	outCols := []dataset.Column{{Name: yearCol, Type: dataset.Int}}
	si, mi := -1, -1
	for j, ci := range floats {
		name := cols[ci].Name
		switch name {
		case SellingPrice:
			si = j
		case MMR:
			mi = j
		}
		outCols = append(outCols, dataset.Column{Name: name, Type: dataset.Float})
	}
	withDiff := si >= 0 && mi >= 0 && !hasColumn(t, PriceDifference)
	if withDiff {
		outCols = append(outCols, dataset.Column{Name: PriceDifference, Type: dataset.Float})
	}

	out, err := dataset.New(outCols...)
	if err != nil {
		return nil, err
	}

	years := make([]int64, 0, len(groups))
	for y := range groups {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool { return years[i] < years[j] })

	for _, y := range years {
		acc := groups[y]
		vals := make([]any, 0, len(outCols))
		vals = append(vals, y)
		means := make([]any, len(floats))
		for j := range floats {
			if acc.counts[j] > 0 {
				means[j] = acc.sums[j] / float64(acc.counts[j])
			}
		}
		vals = append(vals, means...)
		if withDiff {
			var diff any
			if s, ok := means[si].(float64); ok {
				if m, ok := means[mi].(float64); ok {
					diff = s - m
				}
			}
			vals = append(vals, diff)
		}
		if err := out.Append(vals...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FilterYears keeps the rows of t whose yearCol lies between the calendar
// years of start and end, inclusive.
func FilterYears(t *dataset.Table, yearCol string, start, end time.Time) (*dataset.Table, error) {
	yi, ok := t.Index(yearCol)
	if !ok {
		return nil, fmt.Errorf("%w: %q not found", ErrYearColumn, yearCol)
	}
	lo, hi := int64(start.Year()), int64(end.Year())

	out, err := dataset.New(t.Columns()...)
	if err != nil {
		return nil, err
	}
	for _, row := range t.Rows() {
		y, ok := yearOf(row[yi])
		if !ok || y < lo || y > hi {
			continue
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Project returns a table holding only the named columns of t, in the given
// order. Names that t does not have are skipped.
func Project(t *dataset.Table, names ...string) (*dataset.Table, error) {
	all := t.Columns()
	var (
		idx  []int
		cols []dataset.Column
	)
	for _, n := range names {
		if i, ok := t.Index(n); ok {
			idx = append(idx, i)
			cols = append(cols, all[i])
		}
	}
	out, err := dataset.New(cols...)
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(idx))
	for _, row := range t.Rows() {
		for j, i := range idx {
			vals[j] = row[i]
		}
		if err := out.Append(vals...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func hasColumn(t *dataset.Table, name string) bool {
	_, ok := t.Index(name)
	return ok
}

func yearOf(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}
