// Package mysql stages into MySQL or MariaDB through go-sql-driver/mysql.
package mysql

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"autoprice/internal/staging"
	"autoprice/internal/storage"
)

func init() {
	storage.Register("mysql", Open)
}

// Open parses cfg.DSN, forces the options the staging statements rely on and
// opens the pool.
func Open(ctx context.Context, cfg storage.Config) (storage.Gateway, error) {
	dsn, err := normalizeDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenSQL(ctx, "mysql", dsn, 16)
	if err != nil {
		return nil, err
	}
	return storage.NewSQLGateway(db, staging.MySQL), nil
}

// normalizeDSN fills DBName from cfg.Database when the DSN has none and turns
// on parseTime so DATETIME columns come back as time.Time.
func normalizeDSN(cfg storage.Config) (string, error) {
	if cfg.DSN == "" {
		return "", fmt.Errorf("mysql: dsn is empty")
	}
	c, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	if c.DBName == "" {
		c.DBName = cfg.Database
	}
	c.ParseTime = true
	return c.FormatDSN(), nil
}
