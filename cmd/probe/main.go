// Command probe bootstraps a pipeline config by sampling one source.
//
// It loads the source (path, file:// or http(s)://), parses it the way the
// pipeline would, and prints one of:
//
//   - a starter config.Pipeline with the inferred column types pinned (default)
//   - the CREATE TABLE statement the pipeline would issue (-ddl)
//   - a per-column uniqueness report (-report)
//
// CSV sources are cut to a byte prefix (-bytes) at the last complete line.
// HTML sources are always read whole.
//
// # DSN overrides
//
// For server backends the emitted storage.dsn can be set with, in order:
//
//  1. -dsn
//  2. DSN env var
//  3. DSN_HOST / DSN_PORT / DSN_USER / DSN_PASSWORD / DSN_DB (+ DSN_PARAMS)
//
// When none are set the dsn is left as "$DSN" so the runner expands it at run
// time.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/source"
	"autoprice/internal/staging"
)

func main() {
	var (
		flagURL      = flag.String("url", "", "URL or path of the source (CSV or HTML)")
		flagKind     = flag.String("kind", "", "source kind csv|html; detected from the sample when empty")
		flagBytes    = flag.Int("bytes", 20000, "bytes of a CSV source to sample (0 = all)")
		flagName     = flag.String("name", "", "dataset name; defaults to the file name")
		flagTable    = flag.String("table", "", "target table; defaults to the normalized name")
		flagKey      = flag.String("pk", "", "comma-separated primary key; suggested from the sample when empty")
		flagBackend  = flag.String("backend", "sqlite", "storage backend: sqlite|postgres|mysql|mssql")
		flagSelector = flag.String("selector", "", "CSS selector of the HTML table")
		flagDDL      = flag.Bool("ddl", false, "print the CREATE TABLE statement instead of a config")
		flagReport   = flag.Bool("report", false, "print a uniqueness report instead of a config")
		flagPretty   = flag.Bool("pretty", true, "pretty-print JSON output")
		flagDSN      = flag.String("dsn", "", "override storage DSN (highest priority)")
	)
	flag.Parse()

	if strings.TrimSpace(*flagURL) == "" {
		fmt.Fprintln(os.Stderr, "missing -url")
		flag.Usage()
		os.Exit(2)
	}
	dialect, err := staging.ParseDialect(*flagBackend)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	raw, err := source.NewLoader(nil, 0).Load(ctx, *flagURL)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	kind := strings.ToLower(strings.TrimSpace(*flagKind))
	if kind == "" {
		kind = detectKind(raw)
	}

	var tbl *dataset.Table
	switch kind {
	case "csv":
		tbl, err = source.ReadCSV(bytes.NewReader(samplePrefix(raw, *flagBytes)), source.CSVOptions{})
	case "html":
		tbl, err = source.ReadHTMLTable(bytes.NewReader(raw), source.HTMLTableOptions{Selector: *flagSelector})
	default:
		err = fmt.Errorf("unsupported kind %q", kind)
	}
	if err != nil {
		log.Fatalf("probe: %v", err)
	}

	if *flagReport {
		fmt.Fprint(os.Stdout, uniquenessReport(tbl))
		return
	}

	name := *flagName
	if name == "" {
		name = baseName(*flagURL)
	}
	table := *flagTable
	if table == "" {
		table = dataset.NormalizeName(name)
	}

	keys := splitList(*flagKey)
	if len(keys) == 0 {
		keys = suggestKey(tbl)
	}
	desc := staging.Descriptor{Name: table, PrimaryKey: keys, NoPrimaryKey: len(keys) == 0}

	if *flagDDL {
		st, err := staging.CreateTable(dialect, staging.InferSchemaFor(dialect, tbl), desc)
		if err != nil {
			log.Fatalf("ddl: %v", err)
		}
		fmt.Fprintln(os.Stdout, st.String())
		return
	}

	p := starterPipeline(dialect, name, kind, *flagURL, *flagSelector, tbl, desc)

	if dialect != staging.SQLite {
		dsn, ok, err := resolveDSNOverride(dialect, strings.TrimSpace(*flagDSN))
		if err != nil {
			log.Fatalf("dsn override: %v", err)
		}
		if ok {
			p.Storage.DSN = dsn
		}
	}

	enc := json.NewEncoder(os.Stdout)
	if *flagPretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(p); err != nil {
		log.Fatalf("encode config: %v", err)
	}
}

// starterPipeline builds a single-dataset config whose source pins the types
// inferred from the sample, so a full run parses the same way.
func starterPipeline(d staging.Dialect, name, kind, location, selector string, tbl *dataset.Table, desc staging.Descriptor) config.Pipeline {
	types := make(map[string]string, tbl.Width())
	for _, c := range tbl.Columns() {
		types[c.Name] = c.Type.String()
	}

	src := config.Source{Kind: kind, Location: location}
	switch kind {
	case "csv":
		src.Types = types
	case "html":
		src.Selector = selector
		for _, c := range tbl.Columns() {
			if c.Type != dataset.Text {
				src.Numeric = append(src.Numeric, c.Name)
			}
		}
	}

	st := config.Storage{Kind: d.String()}
	if d == staging.SQLite {
		st.BaseDir = "data_folder"
		st.Database = "tool_data"
	} else {
		st.DSN = "$DSN"
	}

	return config.Pipeline{
		Job:     dataset.NormalizeName(name),
		Storage: st,
		Datasets: []config.Dataset{{
			Name:         name,
			Source:       src,
			Table:        desc.Name,
			PrimaryKey:   desc.PrimaryKey,
			NoPrimaryKey: desc.NoPrimaryKey,
		}},
	}
}

func detectKind(raw []byte) string {
	trim := bytes.TrimSpace(raw)
	if len(trim) > 0 && trim[0] == '<' {
		return "html"
	}
	return "csv"
}

// samplePrefix cuts raw to at most n bytes, ending on the last newline.
func samplePrefix(raw []byte, n int) []byte {
	if n <= 0 || len(raw) <= n {
		return raw
	}
	cut := raw[:n]
	if i := bytes.LastIndexByte(cut, '\n'); i > 0 {
		return cut[:i+1]
	}
	return cut
}

func baseName(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	b := path.Base(p)
	if ext := path.Ext(b); ext != "" {
		b = strings.TrimSuffix(b, ext)
	}
	if b == "" || b == "." || b == "/" {
		return "dataset"
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type columnStats struct {
	name     string
	distinct int
	missing  int
}

func stats(tbl *dataset.Table) []columnStats {
	out := make([]columnStats, tbl.Width())
	for i, c := range tbl.Columns() {
		seen := map[any]struct{}{}
		st := columnStats{name: c.Name}
		for _, row := range tbl.Rows() {
			if row[i] == nil {
				st.missing++
				continue
			}
			seen[row[i]] = struct{}{}
		}
		st.distinct = len(seen)
		out[i] = st
	}
	return out
}

// suggestKey returns the first column that is fully populated and unique in
// the sample, or nil when there is none.
func suggestKey(tbl *dataset.Table) []string {
	if tbl.Len() == 0 {
		return nil
	}
	for _, st := range stats(tbl) {
		if st.missing == 0 && st.distinct == tbl.Len() {
			return []string{st.name}
		}
	}
	return nil
}

func uniquenessReport(tbl *dataset.Table) string {
	if tbl.Len() == 0 {
		return "uniqueness: no rows sampled\n"
	}
	cols := tbl.Columns()
	all := stats(tbl)
	order := make([]int, len(all))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return all[order[a]].distinct > all[order[b]].distinct })

	var b strings.Builder
	fmt.Fprintf(&b, "uniqueness (rows sampled: %d)\n", tbl.Len())
	for _, i := range order {
		st := all[i]
		fmt.Fprintf(&b, "  %-24s %-5s distinct=%d missing=%d", st.name, cols[i].Type, st.distinct, st.missing)
		if st.missing == 0 && st.distinct == tbl.Len() {
			b.WriteString("  key candidate")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// resolveDSNOverride returns the DSN to write into the config, if the caller
// configured one. The -dsn flag wins, then DSN, then the DSN_* components.
func resolveDSNOverride(d staging.Dialect, flagDSN string) (dsn string, ok bool, err error) {
	if flagDSN != "" {
		return flagDSN, true, nil
	}
	if v := strings.TrimSpace(os.Getenv("DSN")); v != "" {
		return v, true, nil
	}

	host := strings.TrimSpace(os.Getenv("DSN_HOST"))
	port := strings.TrimSpace(os.Getenv("DSN_PORT"))
	user := strings.TrimSpace(os.Getenv("DSN_USER"))
	pass := os.Getenv("DSN_PASSWORD")
	db := strings.TrimSpace(os.Getenv("DSN_DB"))
	params := strings.TrimSpace(os.Getenv("DSN_PARAMS"))
	if host == "" && port == "" && user == "" && pass == "" && db == "" && params == "" {
		return "", false, nil
	}
	if db == "" {
		db = "tool_data"
	}

	switch d {
	case staging.Postgres:
		return buildURLDSN("postgresql", orDefault(host, "postgres"), orDefault(port, "5432"), user, pass, "/"+db,
			url.Values{"sslmode": {orDefault(os.Getenv("DSN_SSLMODE"), "disable")}}, params), true, nil
	case staging.MSSQL:
		return buildURLDSN("sqlserver", orDefault(host, "mssql"), orDefault(port, "1433"), user, pass, "",
			url.Values{"database": {db}, "encrypt": {orDefault(os.Getenv("DSN_ENCRYPT"), "disable")}}, params), true, nil
	case staging.MySQL:
		// go-sql-driver format: user:pass@tcp(host:port)/db?params
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", user, pass, orDefault(host, "mysql"), orDefault(port, "3306"), db)
		if params != "" {
			dsn += "?" + params
		}
		return dsn, true, nil
	default:
		return "", false, fmt.Errorf("unsupported backend for DSN override: %s", d)
	}
}

func buildURLDSN(scheme, host, port, user, pass, p string, q url.Values, extra string) string {
	u := &url.URL{Scheme: scheme, Host: host + ":" + port, Path: p}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}
	if parsed, err := url.ParseQuery(extra); err == nil {
		for k, vals := range parsed {
			if strings.TrimSpace(k) == "" {
				continue
			}
			for _, v := range vals {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
