// Package pipeline runs a config.Pipeline end to end: read each dataset,
// plan its DDL and DML, stage it through a storage.Gateway, then run the
// read-back query.
//
// Loads are sequential and go through one gateway; there is a single writer
// per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/metrics"
	"autoprice/internal/source"
	"autoprice/internal/staging"
	"autoprice/internal/storage"
)

// ErrInvalidConfig wraps validation errors returned by Run.
var ErrInvalidConfig = errors.New("pipeline: invalid config")

// Runner executes pipelines. The zero value is usable: it logs nowhere,
// opens gateways through storage.Open and downloads with a 30s timeout.
type Runner struct {
	Logger *zap.Logger

	// storage-agnostic factory seam
	OpenGateway func(ctx context.Context, cfg storage.Config) (storage.Gateway, error)

	// Loader overrides the source loader (tests, custom HTTP clients).
	Loader *source.Loader
}

// NewRunner returns a Runner logging to logger (nil means no logging).
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{Logger: logger, OpenGateway: storage.Open}
}

// Summary reports what one dataset load did.
type Summary struct {
	Dataset  string
	Table    string
	Rows     int
	Inserted int64
	Ignored  int64
}

func (r *Runner) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) loader() *source.Loader {
	if r.Loader == nil {
		r.Loader = source.NewLoader(nil, 0)
	}
	return r.Loader
}

// Run executes p and returns the query result (nil when p has no query or
// runs dry).
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (*dataset.Table, error) {
	if issues := config.ValidatePipeline(p); config.HasErrors(issues) {
		var msgs []string
		for _, iss := range issues {
			if iss.Severity == config.SeverityError {
				msgs = append(msgs, iss.Path+": "+iss.Message)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}

	runID := uuid.NewString()
	log := r.log().With(zap.String("run_id", runID), zap.String("job", p.Job))
	started := time.Now()

	dialect, err := staging.ParseDialect(p.Storage.Kind)
	if err != nil {
		return nil, err
	}
	if p.Runtime.HTTPTimeoutSeconds > 0 && r.Loader == nil {
		r.Loader = source.NewLoader(nil, time.Duration(p.Runtime.HTTPTimeoutSeconds)*time.Second)
	}

	if p.Runtime.DryRun {
		log.Info("dry run; statements are logged, not executed", zap.Stringer("dialect", dialect))
		for _, d := range p.Datasets {
			batch, err := r.planDataset(ctx, dialect, d, log)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", datasetName(d), err)
			}
			dlog := log.With(zap.String("dataset", datasetName(d)))
			dlog.Info("statement", zap.Stringer("sql", batch.Create))
			for _, st := range batch.Inserts {
				dlog.Info("statement", zap.Stringer("sql", st))
			}
		}
		return nil, nil
	}

	open := r.OpenGateway
	if open == nil {
		open = storage.Open
	}
	gw, err := open(ctx, storage.Config{
		Kind:     p.Storage.Kind,
		BaseDir:  p.Storage.BaseDir,
		Database: p.Storage.Database,
		DSN:      os.ExpandEnv(p.Storage.DSN),
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if cerr := gw.Close(); cerr != nil {
			log.Warn("close storage", zap.Error(cerr))
		}
	}()

	for _, d := range p.Datasets {
		sum, err := r.stageDataset(ctx, gw, d, log)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", datasetName(d), err)
		}
		log.Info("dataset staged",
			zap.String("dataset", sum.Dataset),
			zap.String("table", sum.Table),
			zap.Int("rows", sum.Rows),
			zap.Int64("inserted", sum.Inserted),
			zap.Int64("ignored", sum.Ignored))
	}

	var out *dataset.Table
	if p.Query != nil {
		out, err = r.runQuery(ctx, gw, *p.Query, log)
		if err != nil {
			return nil, err
		}
	}

	log.Info("run complete", zap.Duration("elapsed", time.Since(started)))
	return out, nil
}

func datasetName(d config.Dataset) string {
	if d.Name != "" {
		return d.Name
	}
	return d.Table
}

func descriptor(d config.Dataset) staging.Descriptor {
	return staging.Descriptor{Name: d.Table, PrimaryKey: d.PrimaryKey, NoPrimaryKey: d.NoPrimaryKey}
}

func (r *Runner) planDataset(ctx context.Context, dialect staging.Dialect, d config.Dataset, log *zap.Logger) (batch *staging.Batch, err error) {
	started := time.Now()
	defer func() { metrics.RecordStep("plan", started, err) }()

	tbl, err := r.readDataset(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	metrics.RecordRecords("read", int64(tbl.Len()))

	batch, err = staging.Plan(dialect, tbl, descriptor(d))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	if ce := log.Check(zap.DebugLevel, "planned"); ce != nil {
		ce.Write(zap.String("dataset", datasetName(d)), zap.Stringer("create", batch.Create), zap.Int("inserts", len(batch.Inserts)))
	}
	return batch, nil
}

func (r *Runner) stageDataset(ctx context.Context, gw storage.Gateway, d config.Dataset, log *zap.Logger) (Summary, error) {
	batch, err := r.planDataset(ctx, gw.Dialect(), d, log)
	if err != nil {
		return Summary{}, err
	}

	if _, err := gw.Execute(ctx, []staging.Statement{batch.Create}); err != nil {
		return Summary{}, fmt.Errorf("create table: %w", err)
	}
	res, err := gw.Execute(ctx, batch.Inserts)
	if err != nil {
		return Summary{}, fmt.Errorf("insert: %w", err)
	}

	sum := Summary{
		Dataset:  datasetName(d),
		Table:    d.Table,
		Rows:     len(batch.Inserts),
		Inserted: res.RowsAffected,
		Ignored:  int64(len(batch.Inserts)) - res.RowsAffected,
	}
	metrics.RecordRecords("inserted", sum.Inserted)
	metrics.RecordRecords("ignored", sum.Ignored)
	return sum, nil
}

func (r *Runner) runQuery(ctx context.Context, gw storage.Gateway, q config.Query, log *zap.Logger) (*dataset.Table, error) {
	sql := strings.TrimSpace(q.SQL)
	if sql == "" {
		var err error
		if sql, err = staging.LoadScript(q.Path); err != nil {
			return nil, err
		}
	}

	tbl, err := gw.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	log.Info("query complete", zap.Int("rows", tbl.Len()), zap.Strings("columns", tbl.ColumnNames()))

	if q.Output == "" {
		return tbl, nil
	}
	if err := writeCSVFile(q.Output, tbl); err != nil {
		return nil, err
	}
	log.Info("query result written", zap.String("path", q.Output))
	return tbl, nil
}

func writeCSVFile(path string, tbl *dataset.Table) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := dataset.WriteCSV(f, tbl); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
