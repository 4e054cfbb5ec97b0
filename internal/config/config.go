// Package config holds the JSON pipeline definition read by cmd/etl and its
// validation rules.
package config

import (
	"autoprice/internal/source"
)

// Pipeline is one ETL job: where to stage, what to stage and the read-back
// query feeding the dashboard.
type Pipeline struct {
	Job      string    `json:"job"`
	Storage  Storage   `json:"storage"`
	Datasets []Dataset `json:"datasets"`
	Query    *Query    `json:"query,omitempty"`
	Runtime  Runtime   `json:"runtime"`
}

// Storage selects the gateway backend. DSN may reference environment
// variables ($PGPASSWORD); they are expanded at run time.
type Storage struct {
	// Backend kind: "sqlite" | "postgres" | "mysql" | "mssql"
	Kind     string `json:"kind"`
	BaseDir  string `json:"base_dir,omitempty"`
	Database string `json:"database,omitempty"`
	DSN      string `json:"dsn,omitempty"`
}

// Dataset is one source file staged into one table.
type Dataset struct {
	Name         string         `json:"name"`
	Source       Source         `json:"source"`
	Table        string         `json:"table"`
	PrimaryKey   []string       `json:"primary_key"`
	NoPrimaryKey bool           `json:"no_primary_key,omitempty"`
	FillMissing  map[string]any `json:"fill_missing,omitempty"`
}

// Source describes how to read a dataset. CSV-only and HTML-only options are
// ignored by the other kind.
type Source struct {
	// "csv" | "html"
	Kind     string            `json:"kind"`
	Location string            `json:"location"`
	Renames  map[string]string `json:"renames,omitempty"`
	NATokens []string          `json:"na_tokens,omitempty"`

	// csv
	Comma string            `json:"comma,omitempty"`
	Types map[string]string `json:"types,omitempty"`

	// html
	Selector  string            `json:"selector,omitempty"`
	Strip     []string          `json:"strip,omitempty"`
	Numeric   []string          `json:"numeric,omitempty"`
	Constants []source.Constant `json:"constants,omitempty"`
}

// Query is the read-back step. Exactly one of SQL and Path is set; Output,
// when set, receives the result as CSV.
type Query struct {
	SQL    string `json:"sql,omitempty"`
	Path   string `json:"path,omitempty"`
	Output string `json:"output,omitempty"`
}

// Runtime tunes execution.
type Runtime struct {
	// HTTPTimeoutSeconds bounds each remote source download. Default 30.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds,omitempty"`

	// DryRun logs the generated statements instead of executing them.
	DryRun bool `json:"dry_run,omitempty"`
}
