// Package sqlite is the default staging backend: one database file per
// dataset directory, opened through modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"autoprice/internal/staging"
	"autoprice/internal/storage"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens the database file for cfg.
//
// cfg.DSN wins when set (":memory:" and "file:" URIs included). Otherwise the
// file is <BaseDir>/<Database>.db and BaseDir is created if missing.
//
// The pool holds a single connection: SQLite serializes writers anyway and a
// second connection would only surface as SQLITE_BUSY.
func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	dsn, err := ResolvePath(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenSQL(ctx, "sqlite", dsn, 1)
	if err != nil {
		return nil, err
	}
	return storage.NewSQLGateway(db, staging.SQLite), nil
}

// ResolvePath returns the DSN the backend will open for cfg.
func ResolvePath(cfg storage.Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	name := strings.TrimSpace(cfg.Database)
	if name == "" {
		return "", fmt.Errorf("sqlite: database name is empty")
	}
	base := cfg.BaseDir
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("sqlite: create %s: %w", base, err)
	}
	return filepath.Join(base, strings.TrimSuffix(name, ".db")+".db"), nil
}
