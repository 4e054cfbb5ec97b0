package staging

import (
	"fmt"
	"os"
	"strings"

	"autoprice/internal/dataset"
)

// Batch is everything needed to stage one table. The schema is inferred once
// and shared by Create and Inserts.
type Batch struct {
	Table   Descriptor
	Schema  Schema
	Create  Statement
	Inserts []Statement
}

// Plan infers the schema of t and generates the DDL and DML for it.
func Plan(d Dialect, t *dataset.Table, desc Descriptor) (*Batch, error) {
	s := InferSchemaFor(d, t)

	create, err := CreateTable(d, s, desc)
	if err != nil {
		return nil, err
	}
	inserts, err := InsertRows(d, s, t, desc)
	if err != nil {
		return nil, err
	}
	return &Batch{Table: desc, Schema: s, Create: create, Inserts: inserts}, nil
}

// LoadScript reads a SQL script (e.g. the dashboard query) from disk.
func LoadScript(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("staging: read script %s: %w", path, err)
	}
	q := strings.TrimSpace(string(b))
	if q == "" {
		return "", fmt.Errorf("staging: script %s is empty", path)
	}
	return q, nil
}
