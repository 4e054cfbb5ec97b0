package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"autoprice/internal/dataset"
	"autoprice/internal/staging"
)

// Severity of a validation issue. Errors stop the run; warnings are printed.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a JSON-ish pointer into the
// config ("datasets[1].primary_key").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline checks p without touching the filesystem or the network.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarning, "job", "job name is empty; metrics and logs will use the default")
	}

	validateStorage(p.Storage, add)

	if len(p.Datasets) == 0 && p.Query == nil {
		add(SeverityError, "datasets", "no datasets and no query; nothing to do")
	}

	tables := map[string]int{}
	for i, d := range p.Datasets {
		base := fmt.Sprintf("datasets[%d]", i)
		validateDataset(base, d, add)

		key := strings.ToLower(strings.TrimSpace(d.Table))
		if prev, ok := tables[key]; ok && key != "" {
			add(SeverityWarning, base+".table", "table %q is also loaded by datasets[%d]; rows are merged", d.Table, prev)
		} else {
			tables[key] = i
		}
	}

	if q := p.Query; q != nil {
		hasSQL, hasPath := strings.TrimSpace(q.SQL) != "", strings.TrimSpace(q.Path) != ""
		switch {
		case hasSQL && hasPath:
			add(SeverityError, "query", "set either sql or path, not both")
		case !hasSQL && !hasPath:
			add(SeverityError, "query", "sql or path is required")
		}
	}

	if p.Runtime.HTTPTimeoutSeconds < 0 {
		add(SeverityError, "runtime.http_timeout_seconds", "must not be negative")
	}
	return out
}

type addFunc func(sev Severity, path, format string, a ...any)

func validateStorage(s Storage, add addFunc) {
	if strings.TrimSpace(s.Kind) == "" {
		add(SeverityError, "storage.kind", "storage kind is required")
		return
	}
	d, err := staging.ParseDialect(s.Kind)
	if err != nil {
		add(SeverityError, "storage.kind", "unsupported storage kind %q", s.Kind)
		return
	}
	switch d {
	case staging.SQLite:
		if strings.TrimSpace(s.Database) == "" && strings.TrimSpace(s.DSN) == "" {
			add(SeverityError, "storage.database", "sqlite needs database (or dsn)")
		}
	default:
		if strings.TrimSpace(s.DSN) == "" {
			add(SeverityError, "storage.dsn", "%s needs a dsn", s.Kind)
		}
		if s.BaseDir != "" {
			add(SeverityWarning, "storage.base_dir", "ignored for %s", s.Kind)
		}
	}
}

func validateDataset(base string, d Dataset, add addFunc) {
	if strings.TrimSpace(d.Table) == "" {
		add(SeverityError, base+".table", "table is required")
	}

	switch d.Source.Kind {
	case "csv":
		if d.Source.Comma != "" && utf8.RuneCountInString(d.Source.Comma) != 1 {
			add(SeverityError, base+".source.comma", "must be a single character")
		}
		for col, typ := range d.Source.Types {
			if _, err := dataset.ParseColumnType(typ); err != nil {
				add(SeverityError, base+".source.types."+col, "unknown type %q (want int, float or text)", typ)
			}
		}
	case "html":
		for i, c := range d.Source.Constants {
			if strings.TrimSpace(c.Name) == "" {
				add(SeverityError, fmt.Sprintf("%s.source.constants[%d].name", base, i), "name is required")
			}
		}
	case "":
		add(SeverityError, base+".source.kind", "source kind is required (csv or html)")
	default:
		add(SeverityError, base+".source.kind", "unsupported source kind %q", d.Source.Kind)
	}
	if strings.TrimSpace(d.Source.Location) == "" {
		add(SeverityError, base+".source.location", "location is required")
	}

	switch {
	case len(d.PrimaryKey) == 0 && !d.NoPrimaryKey:
		add(SeverityError, base+".primary_key", "primary key is required; set no_primary_key to stage without one")
	case len(d.PrimaryKey) > 0 && d.NoPrimaryKey:
		add(SeverityError, base+".no_primary_key", "conflicts with primary_key")
	case d.NoPrimaryKey:
		add(SeverityWarning, base+".no_primary_key", "re-running the load will duplicate rows")
	}
	seen := map[string]bool{}
	for i, k := range d.PrimaryKey {
		if strings.TrimSpace(k) == "" {
			add(SeverityError, fmt.Sprintf("%s.primary_key[%d]", base, i), "empty column name")
			continue
		}
		if seen[k] {
			add(SeverityError, fmt.Sprintf("%s.primary_key[%d]", base, i), "column %q listed twice", k)
		}
		seen[k] = true
	}
}
