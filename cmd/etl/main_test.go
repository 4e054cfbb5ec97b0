package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"autoprice/internal/config"
	"autoprice/internal/dataset"
	"autoprice/internal/metrics/datadog"
)

// fakeRunner records calls and the last pipeline it received.
type fakeRunner struct {
	err   error
	out   *dataset.Table
	calls atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline
}

func (r *fakeRunner) Run(_ context.Context, p config.Pipeline) (*dataset.Table, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = p
	r.mu.Unlock()
	return r.out, r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

const validJSON = `{
  "job": "job1",
  "storage": {"kind": "sqlite", "database": "tool_data"},
  "datasets": [{"source": {"kind": "csv", "location": "a.csv"}, "table": "t", "primary_key": ["year"]}]
}`

func nopLogger(bool) (*zap.Logger, error) { return zap.NewNop(), nil }

// untouchedDeps fails the test if runMain reaches any dependency.
func untouchedDeps(t *testing.T) appDeps {
	fail := func(name string) { t.Fatalf("%s called before flags were accepted", name) }
	return appDeps{
		readFile:  func(string) ([]byte, error) { fail("readFile"); return nil, nil },
		unmarshal: func([]byte, any) error { fail("unmarshal"); return nil },
		newLogger: func(bool) (*zap.Logger, error) { fail("newLogger"); return zap.NewNop(), nil },
		newRunner: func(*zap.Logger) runner { fail("newRunner"); return &fakeRunner{} },
		initMetrics: func(context.Context, string, string) (func(), error) {
			fail("initMetrics")
			return func() {}, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		args []string
		want string
	}{
		"no -config":    {nil, "usage: etl -config"},
		"blank -config": {[]string{"-config", "   "}, "usage: etl -config"},
		"unknown flag":  {[]string{"-nope"}, "flag provided but not defined"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var out, errOut bytes.Buffer
			if code := runMain(context.Background(), tc.args, &out, &errOut, untouchedDeps(t)); code != 2 {
				t.Fatalf("code = %d, want 2 (stderr %q)", code, errOut.String())
			}
			if !strings.Contains(errOut.String(), tc.want) || out.Len() != 0 {
				t.Fatalf("stdout %q stderr %q, want stderr containing %q", out.String(), errOut.String(), tc.want)
			}
		})
	}
}

func TestRunMain_ReadParseMetricsRun_FullFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		readErr          error
		unmarshalErr     error
		initMetricsErr   error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{name: "read_config_error", readErr: errors.New("no such file"), wantCode: 1, wantStderrSub: "read config:"},
		{name: "parse_config_error", unmarshalErr: errors.New("bad json"), wantCode: 1, wantStderrSub: "parse config:"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("db failed"),
			wantCode:         1,
			wantStderrSub:    "run:",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			wantCode:         0,
			wantStdout:       "ok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}

			var cleanupCalls atomic.Int64
			deps := appDeps{
				readFile: func(path string) ([]byte, error) {
					if path != "cfg.json" {
						t.Fatalf("readFile path=%q, want %q", path, "cfg.json")
					}
					if tc.readErr != nil {
						return nil, tc.readErr
					}
					return []byte(validJSON), nil
				},
				unmarshal: func(data []byte, v any) error {
					if tc.unmarshalErr != nil {
						return tc.unmarshalErr
					}
					if _, ok := v.(*config.Pipeline); !ok {
						t.Fatalf("unmarshal target type=%T, want *config.Pipeline", v)
					}
					return json.Unmarshal(data, v)
				},
				newLogger: nopLogger,
				initMetrics: func(_ context.Context, jobName, _ string) (func(), error) {
					if jobName != "job1" {
						t.Fatalf("jobName=%q, want %q", jobName, "job1")
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(*zap.Logger) runner { return fr },
			}

			code := runMain(context.Background(), []string{"-config", "cfg.json", "-metrics-backend", "none"}, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_InvalidConfigDoesNotRun(t *testing.T) {
	t.Parallel()

	deps := appDeps{
		readFile:  func(string) ([]byte, error) { return []byte(`{"job":"j","storage":{"kind":"oracle"}}`), nil },
		unmarshal: json.Unmarshal,
		newRunner: func(*zap.Logger) runner {
			t.Fatalf("invalid config must not build a runner")
			return nil
		},
		initMetrics: func(context.Context, string, string) (func(), error) {
			t.Fatalf("invalid config must not init metrics")
			return func() {}, nil
		},
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "x.json"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "error: storage.kind") || !strings.Contains(stderr.String(), "configuration is invalid") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"valid", validJSON, 0, "valid\n", ""},
		{"invalid", `{"job":"j","storage":{"kind":"sqlite"}}`, 1, "", "configuration is invalid"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deps := defaultDeps()
			deps.readFile = func(string) ([]byte, error) { return []byte(tc.body), nil }
			deps.newRunner = func(*zap.Logger) runner {
				t.Fatalf("validate must not build a runner")
				return nil
			}

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), []string{"-config", "x.json", "-validate"}, &stdout, &stderr, deps)
			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if stdout.String() != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", stdout.String(), tc.wantStdout)
			}
			if !strings.Contains(stderr.String(), tc.wantStderr) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderr)
			}
		})
	}
}

func TestRunMain_WritesQueryResultToStdout(t *testing.T) {
	t.Parallel()

	out := dataset.MustNew(dataset.Column{Name: "year", Type: dataset.Int}, dataset.Column{Name: "close", Type: dataset.Float})
	if err := out.Append(int64(2001), 13.0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	fr := &fakeRunner{out: out}

	deps := appDeps{
		readFile: func(string) ([]byte, error) {
			return []byte(`{"job":"q","storage":{"kind":"sqlite","database":"d"},"query":{"sql":"SELECT 1"}}`), nil
		},
		unmarshal:   json.Unmarshal,
		newLogger:   nopLogger,
		newRunner:   func(*zap.Logger) runner { return fr },
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
	}

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"-config", "c.json"}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if got, want := stdout.String(), "year,close\n2001,13\nok\n"; got != want {
		t.Fatalf("stdout=%q, want %q", got, want)
	}
}

func TestRunMain_ScheduleStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRunner{}
	deps := appDeps{
		readFile:    func(string) ([]byte, error) { return []byte(validJSON), nil },
		unmarshal:   json.Unmarshal,
		newLogger:   nopLogger,
		newRunner:   func(*zap.Logger) runner { return fr },
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
	}

	done := make(chan int, 1)
	var stdout, stderr bytes.Buffer
	go func() {
		done <- runMain(ctx, []string{"-config", "c.json", "-schedule", "@every 10ms"}, &stdout, &stderr, deps)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for fr.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}
	if fr.calls.Load() == 0 {
		t.Fatalf("scheduled runner never ran")
	}
}

func TestRunMain_BadScheduleIsRuntimeError(t *testing.T) {
	t.Parallel()

	deps := appDeps{
		readFile:    func(string) ([]byte, error) { return []byte(validJSON), nil },
		unmarshal:   json.Unmarshal,
		newLogger:   nopLogger,
		newRunner:   func(*zap.Logger) runner { return &fakeRunner{} },
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "c.json", "-schedule", "every tuesday"}, &stdout, &stderr, deps)
	if code != 1 || !strings.Contains(stderr.String(), "schedule:") {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
}

func TestRunMain_EndToEndSQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "ford_stock.csv")
	if err := os.WriteFile(csvPath, []byte("Year,Close\n2001,13\n2002,9.75\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`{
  "job": "e2e",
  "storage": {"kind": "sqlite", "base_dir": %q, "database": "tool_data"},
  "datasets": [{"source": {"kind": "csv", "location": %q}, "table": "ford_stock_data", "primary_key": ["year"]}],
  "query": {"sql": "SELECT COUNT(*) AS n FROM ford_stock_data"}
}`, dir, csvPath)
	cfgPath := filepath.Join(dir, "pipeline.json")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := defaultDeps()
	deps.newLogger = nopLogger

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none"}, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	if got, want := stdout.String(), "n\n2\nok\n"; got != want {
		t.Fatalf("stdout=%q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "tool_data.db")); err != nil {
		t.Fatalf("database file: %v", err)
	}
}

// The initMetrics tests swap package-level seams and so do not run in parallel.

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "noop"} {
		cleanup, err := initMetrics(context.Background(), "job", name)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" {
		t.Fatalf("datadog options JobName=%q, want %q", gotOpts.JobName, "jobA")
	}
	if gotOpts.FlushEvery != time.Minute {
		t.Fatalf("FlushEvery=%v, want 1m", gotOpts.FlushEvery)
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new=%d set=%d, want 1/1", newCalls.Load(), setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(any) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), "job", "dd")
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want close error with cause", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	t.Parallel()

	cleanup, err := initMetrics(context.Background(), "job", "nope")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	if !errors.Is(err, errUnknownBackend) {
		t.Fatalf("err=%v, want errUnknownBackend", err)
	}
	if !strings.Contains(err.Error(), "none|datadog") {
		t.Fatalf("err=%q, want contains %q", err.Error(), "none|datadog")
	}
}

func BenchmarkRunMain_Success_NoIO(b *testing.B) {
	ctx := context.Background()
	fr := &fakeRunner{}
	raw := []byte(validJSON)

	deps := appDeps{
		readFile:    func(string) ([]byte, error) { return raw, nil },
		unmarshal:   json.Unmarshal,
		newLogger:   nopLogger,
		initMetrics: func(context.Context, string, string) (func(), error) { return func() {}, nil },
		newRunner:   func(*zap.Logger) runner { return fr },
	}
	args := []string{"-config", "cfg.json", "-metrics-backend", "none"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var stdout, stderr bytes.Buffer
		if code := runMain(ctx, args, &stdout, &stderr, deps); code != 0 {
			b.Fatalf("code=%d, stderr=%q", code, stderr.String())
		}
	}
}
