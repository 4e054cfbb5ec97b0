package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"autoprice/internal/api"
	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/report"
	"autoprice/internal/staging"
	"autoprice/internal/storage"
	_ "autoprice/internal/storage/all"
)

// main serves the dashboard feed over the tables a pipeline run staged.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("dashboard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "pipeline config JSON path (storage and query are used)")
	addr := fs.String("addr", ":8050", "listen address (overrides env PORT)")
	yearCol := fs.String("year-column", "year", "column the summary groups by")
	verbose := fs.Bool("v", false, "enable verbose logs")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: dashboard -config path/to/pipeline.json [-addr :8050]")
		return 2
	}
	if port := os.Getenv("PORT"); port != "" && !isFlagSet(fs, "addr") {
		*addr = ":" + port
	}

	logger, err := zap.NewProduction()
	if *verbose {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	raw, err := os.ReadFile(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	var p config.Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}

	sum, err := loadSummary(ctx, p, *yearCol)
	if err != nil {
		fmt.Fprintf(stderr, "load summary: %v\n", err)
		return 1
	}
	logger.Info("summary loaded", zap.Int("years", sum.Len()), zap.Strings("columns", sum.ColumnNames()))

	srv := api.New(sum, api.Config{Addr: *addr, YearColumn: *yearCol}, logger)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	return 0
}

var errNoQuery = errors.New("config has no query")

// loadSummary runs p's dashboard query against its storage and reduces the
// result to per-year means.
func loadSummary(ctx context.Context, p config.Pipeline, yearCol string) (*dataset.Table, error) {
	if p.Query == nil {
		return nil, errNoQuery
	}
	sql := strings.TrimSpace(p.Query.SQL)
	if sql == "" {
		var err error
		if sql, err = staging.LoadScript(p.Query.Path); err != nil {
			return nil, err
		}
	}

	gw, err := storage.Open(ctx, storage.Config{
		Kind:     p.Storage.Kind,
		BaseDir:  p.Storage.BaseDir,
		Database: p.Storage.Database,
		DSN:      os.ExpandEnv(p.Storage.DSN),
	})
	if err != nil {
		return nil, err
	}
	defer gw.Close()

	tbl, err := gw.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return report.YearSummary(tbl, yearCol)
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
