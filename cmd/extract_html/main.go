// Command extract-html turns one HTML table into a cleaned CSV.
//
// Usage (stdin):
//
//	cat report.html | extract-html -selector "table.table-bordered" \
//	    -rename _2024=sales_numbers -numeric sales_numbers -const year=2024 \
//	    -fill sales_numbers=0 -out data_folder/2024_us_auto_sales.csv
//
// Usage (fetch URL):
//
//	extract-html -url "https://example.com/report" -selector table
//
// Debug (list the tables on the page with their header rows):
//
//	cat report.html | extract-html -list
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"autoprice/internal/dataset"
	"autoprice/internal/source"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// pairs collects repeated name=value flags.
type pairs map[string]string

func (p pairs) String() string { return fmt.Sprint(map[string]string(p)) }

func (p pairs) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("want name=value, got %q", s)
	}
	p[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

// list collects repeated or comma-separated values.
type list []string

func (l *list) String() string { return strings.Join(*l, ",") }

func (l *list) Set(s string) error {
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

// run returns 0 on success, 2 on usage errors and 1 on runtime errors.
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("extract-html", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		renames   = pairs{}
		constants = pairs{}
		fills     = pairs{}
		numeric   list
	)
	urlFlag := fs.String("url", "", "fetch HTML from URL or path instead of stdin")
	selector := fs.String("selector", "table", "CSS selector of the table")
	outPath := fs.String("out", "", "write CSV here instead of stdout")
	timeout := fs.Duration("timeout", 20*time.Second, "timeout for -url fetch")
	listTables := fs.Bool("list", false, "debug: list tables and their header rows")
	fs.Var(renames, "rename", "column rename normalized=new (repeatable)")
	fs.Var(&numeric, "numeric", "columns forced to float; unparseable cells become empty (repeatable)")
	fs.Var(constants, "const", "constant column name=value (repeatable)")
	fs.Var(fills, "fill", "fill missing cells column=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	var html []byte
	var err error
	if *urlFlag != "" {
		html, err = source.NewLoader(httpClient, *timeout).Load(ctx, *urlFlag)
	} else {
		html, err = io.ReadAll(stdin)
	}
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	if *listTables {
		if err := printTables(stdout, html); err != nil {
			fmt.Fprintf(stderr, "list tables: %v\n", err)
			return 1
		}
		return 0
	}

	opt := source.HTMLTableOptions{
		Selector: *selector,
		Renames:  renames,
		Numeric:  numeric,
	}
	names := make([]string, 0, len(constants))
	for n := range constants {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		opt.Constants = append(opt.Constants, source.Constant{Name: n, Value: constants[n]})
	}

	tbl, err := source.ReadHTMLTable(bytes.NewReader(html), opt)
	if err != nil {
		fmt.Fprintf(stderr, "extract: %v\n", err)
		return 1
	}

	cols := make([]string, 0, len(fills))
	for c := range fills {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		v, err := fillValue(tbl, c, fills[c])
		if err == nil {
			err = tbl.FillMissing(c, v)
		}
		if err != nil {
			fmt.Fprintf(stderr, "fill: %v\n", err)
			return 2
		}
	}

	w := stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(stderr, "create output: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if err := dataset.WriteCSV(w, tbl); err != nil {
		fmt.Fprintf(stderr, "write csv: %v\n", err)
		return 1
	}
	return 0
}

// fillValue parses s as the type of column c.
func fillValue(tbl *dataset.Table, c, s string) (any, error) {
	i, ok := tbl.Index(c)
	if !ok {
		return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownColumn, c)
	}
	switch tbl.Columns()[i].Type {
	case dataset.Int:
		return strconv.ParseInt(s, 10, 64)
	case dataset.Float:
		return strconv.ParseFloat(s, 64)
	}
	return s, nil
}

func printTables(w io.Writer, html []byte) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return err
	}
	doc.Find("table").Each(func(i int, t *goquery.Selection) {
		var head []string
		t.Find("tr").First().Find("th, td").Each(func(_ int, c *goquery.Selection) {
			head = append(head, strings.Join(strings.Fields(c.Text()), " "))
		})
		class, _ := t.Attr("class")
		fmt.Fprintf(w, "%d\tclass=%q\trows=%d\t%s\n", i, class, t.Find("tr").Length(), strings.Join(head, " | "))
	})
	return nil
}
