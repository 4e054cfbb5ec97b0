// Package mssql stages into Microsoft SQL Server through go-mssqldb.
//
// Statements use @pN placeholders, which the "sqlserver" driver binds
// positionally.
package mssql

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb"

	"autoprice/internal/staging"
	"autoprice/internal/storage"
)

func init() {
	storage.Register("mssql", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	dsn, err := withDatabase(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenSQL(ctx, "sqlserver", dsn, 64)
	if err != nil {
		return nil, err
	}
	return storage.NewSQLGateway(db, staging.MSSQL), nil
}

// withDatabase adds database=<cfg.Database> to a sqlserver:// URL that does
// not name one.
func withDatabase(cfg storage.Config) (string, error) {
	if cfg.DSN == "" {
		return "", fmt.Errorf("mssql: dsn is empty")
	}
	if cfg.Database == "" {
		return cfg.DSN, nil
	}
	u, err := url.Parse(cfg.DSN)
	if err != nil || u.Scheme != "sqlserver" {
		// ADO-style "server=...;" strings are passed through untouched.
		return cfg.DSN, nil
	}
	q := u.Query()
	if q.Get("database") == "" {
		q.Set("database", cfg.Database)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
