package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/metrics"
	"autoprice/internal/metrics/datadog"
	"autoprice/internal/pipeline"

	// storage.kind in the config picks one of these at run time.
	_ "autoprice/internal/storage/all"
)

// runner is the part of pipeline.Runner the CLI needs.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) (*dataset.Table, error)
}

// metricsBackend is what initMetrics owns: something to close on shutdown.
type metricsBackend interface {
	Close() error
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	unmarshal   func(data []byte, v any) error
	newLogger   func(verbose bool) (*zap.Logger, error)
	newRunner   func(logger *zap.Logger) runner
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		unmarshal:   json.Unmarshal,
		newLogger:   newLogger,
		newRunner:   func(l *zap.Logger) runner { return pipeline.NewRunner(l) },
		initMetrics: initMetrics,
	}
}

// main loads a pipeline config and stages its datasets, once or on a cron
// schedule until interrupted.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 ok, 1 runtime failure, 2 usage.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath     string
		backendName string
		schedule    string
		validate    bool
		verbose     bool
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	fs.StringVar(&backendName, "metrics-backend", "", "metrics backend: none|datadog (overrides env METRICS_BACKEND)")
	fs.StringVar(&schedule, "schedule", "", "cron expression; run repeatedly instead of once")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfgPath = strings.TrimSpace(cfgPath)
	if cfgPath == "" {
		fmt.Fprintln(stderr, "usage: etl -config path/to/pipeline.json [-validate] [-v] [-metrics-backend none|datadog] [-schedule \"@hourly\"]")
		return 2
	}

	raw, err := deps.readFile(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	var p config.Pipeline
	if err := deps.unmarshal(raw, &p); err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", cfgPath)
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "valid")
		return 0
	}

	mk := deps.newLogger
	if mk == nil {
		mk = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	}
	logger, err := mk(verbose)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	cleanup, err := deps.initMetrics(ctx, p.Job, backendName)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	r := deps.newRunner(logger)

	if schedule != "" {
		if err := runScheduled(ctx, schedule, r, p, logger); err != nil {
			fmt.Fprintf(stderr, "schedule: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	start := time.Now()
	out, err := r.Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if out != nil && p.Query != nil && p.Query.Output == "" {
		if err := dataset.WriteCSV(stdout, out); err != nil {
			fmt.Fprintf(stderr, "write result: %v\n", err)
			return 1
		}
	}
	logger.Debug("completed", zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))

	fmt.Fprintln(stdout, "ok")
	return 0
}

// runScheduled runs p on schedule until ctx is done. A run still in progress when
// the next tick fires makes that tick a no-op.
func runScheduled(ctx context.Context, schedule string, r runner, p config.Pipeline, logger *zap.Logger) error {
	cl := cronLogger{logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.Run(ctx, p); err != nil {
			logger.Error("scheduled run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("parse %q: %w", schedule, err)
	}

	logger.Info("scheduler started", zap.String("schedule", schedule), zap.String("job", p.Job))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		mb, _ := b.(metrics.Backend)
		metrics.SetBackend(mb)
	}
	logPrintf = log.Printf
)

var errUnknownBackend = errors.New("unknown metrics backend")

// initMetrics installs the named backend and returns its cleanup. cleanup is
// never nil, even on error.
func initMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil
	case "datadog", "dd":
		if jobName == "" {
			jobName = "autoprice"
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil
	default:
		return noop, fmt.Errorf("%w %q (want none|datadog)", errUnknownBackend, backendName)
	}
}
